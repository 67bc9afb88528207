package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewBillingPeriod_RejectsEmptyOrInvertedRange(t *testing.T) {
	_, err := NewBillingPeriod(ts("2017-02-24 18:00:00"), ts("2017-02-24 18:00:00"))
	assert.True(t, IsCode(err, EINVALID))

	_, err = NewBillingPeriod(ts("2017-02-24 19:00:00"), ts("2017-02-24 18:00:00"))
	assert.True(t, IsCode(err, EINVALID))
}

func TestBillingPeriod_ContainsIsHalfOpen(t *testing.T) {
	p := MustBillingPeriod(ts("2017-02-24 17:00:00"), ts("2017-02-24 18:00:00"))

	assert.True(t, p.Contains(ts("2017-02-24 17:00:00")), "start belongs to the period")
	assert.True(t, p.Contains(ts("2017-02-24 17:59:59")))
	assert.False(t, p.Contains(ts("2017-02-24 18:00:00")), "end belongs to the next period")
	assert.False(t, p.Contains(ts("2017-02-24 16:59:59")))
	assert.Equal(t, int64(3600), p.DurationSeconds())
	assert.Equal(t, time.Hour, p.Duration())
}

func TestBillingPeriod_Equal(t *testing.T) {
	a := MustBillingPeriod(ts("2017-02-24 17:00:00"), ts("2017-02-24 18:00:00"))
	b := MustBillingPeriod(ts("2017-02-24 17:00:00"), ts("2017-02-24 18:00:00"))
	c := MustBillingPeriod(ts("2017-02-24 17:00:00"), ts("2017-02-24 18:00:01"))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestBillingPeriod_Intersect(t *testing.T) {
	p := MustBillingPeriod(ts("2017-02-24 17:00:00"), ts("2017-02-24 18:00:00"))
	start := ts("2017-02-24 17:30:00")
	end := ts("2017-02-24 17:45:00")
	before := ts("2017-02-24 16:00:00")
	after := ts("2017-02-24 19:00:00")

	tests := []struct {
		name   string
		from   *time.Time
		until  *time.Time
		want   BillingPeriod
		wantOK bool
	}{
		{"unbounded", nil, nil, p, true},
		{"starts inside", &start, nil, MustBillingPeriod(start, p.End()), true},
		{"ends inside", nil, &end, MustBillingPeriod(p.Start(), end), true},
		{"both inside", &start, &end, MustBillingPeriod(start, end), true},
		{"ended before", nil, &before, BillingPeriod{}, false},
		{"starts after", &after, nil, BillingPeriod{}, false},
		{"ends at start", nil, ptrTime(p.Start()), BillingPeriod{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Intersect(tt.from, tt.until)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBillingPeriod_JSON(t *testing.T) {
	p := MustBillingPeriod(ts("2017-02-24 17:00:00"), ts("2017-02-24 18:00:00"))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2017-02-24T17:00:00Z","end":"2017-02-24T18:00:00Z"}`, string(data))

	var bad BillingPeriod
	err = json.Unmarshal([]byte(`{"start":"2017-02-24T18:00:00Z","end":"2017-02-24T17:00:00Z"}`), &bad)
	assert.Error(t, err)
}

func ptrTime(t time.Time) *time.Time { return &t }
