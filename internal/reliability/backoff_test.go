package reliability

import (
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, c := range cases {
		if got := ExponentialBackoff(c.attempt, base, cap); got != c.want {
			t.Fatalf("ExponentialBackoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestExponentialBackoffNegativeAttempt(t *testing.T) {
	if got := ExponentialBackoff(-1, time.Second, time.Minute); got != time.Second {
		t.Fatalf("ExponentialBackoff(-1) = %v, want base", got)
	}
}
