package orders

import (
	"context"
	"time"

	"github.com/BearBump/OrderBox/internal/models"
)

// WithLocation sets the zone whose midnight starts "today" for Stats.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Stats counts orders placed since the given time, or since today's midnight
// when since is zero. Every status and channel appears, zeros included.
func (s *Service) Stats(ctx context.Context, since time.Time, f models.OrderFilter) (models.OrderStats, error) {
	if since.IsZero() {
		since = startOfDay(s.now().In(s.location()))
	}
	counts, err := s.repo.CountByStatusChannel(ctx, since, f)
	if err != nil {
		return models.OrderStats{}, err
	}

	st := models.OrderStats{
		Since:     since,
		ByStatus:  make(map[models.Status]int, len(models.Statuses)),
		ByChannel: make(map[models.Channel]int, len(models.Channels)),
	}
	for _, v := range models.Statuses {
		st.ByStatus[v] = 0
	}
	for _, c := range models.Channels {
		st.ByChannel[c] = 0
	}
	for _, c := range counts {
		st.ByStatus[c.Status] += c.Count
		st.ByChannel[c.Channel] += c.Count
		if f.Status == nil || *f.Status == c.Status {
			st.Total += c.Count
		}
	}
	return st, nil
}

func (s *Service) location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
