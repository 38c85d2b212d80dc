package daemon

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmissionLimit(t *testing.T) {
	t.Parallel()

	const jobs = 3
	adm := NewAdmission(jobs)

	tickets := make([]*Ticket, 0, jobs+1)
	for i := 0; i < jobs; i++ {
		tk := adm.Enter()
		assert.True(t, tk.Admitted())
		tickets = append(tickets, tk)
	}

	over := adm.Enter()
	assert.False(t, over.Admitted(), "J+1-th session is turned away")
	assert.Equal(t, int64(jobs+1), adm.Live(), "rejected sessions still count until released")

	over.Release()
	tickets[0].Release()
	assert.Equal(t, int64(jobs-1), adm.Live())

	next := adm.Enter()
	assert.True(t, next.Admitted(), "a slot freed by a finished session is reused")
	next.Release()
	for _, tk := range tickets[1:] {
		tk.Release()
	}
	assert.Zero(t, adm.Live())
}

func TestTicketReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	adm := NewAdmission(1)
	tk := adm.Enter()
	tk.Release()
	tk.Release()
	tk.Release()
	assert.Zero(t, adm.Live())
}

func TestAdmissionMinimumOneJob(t *testing.T) {
	t.Parallel()

	adm := NewAdmission(0)
	assert.Equal(t, int64(1), adm.Max())
	assert.True(t, adm.Enter().Admitted())
}

func TestAdmissionConcurrent(t *testing.T) {
	t.Parallel()

	const (
		jobs    = 8
		workers = 64
		rounds  = 500
	)
	adm := NewAdmission(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				tk := adm.Enter()
				assert.LessOrEqual(t, tk.Seen(), int64(workers))
				tk.Release()
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, adm.Live(), "no lost updates")
}
