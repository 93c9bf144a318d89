package types

import "time"

// NowService provides a current time in the engine reference timezone.
// All schedule decisions are made against this time so "today" means
// the same thing regardless of where the process runs
type NowService interface {
	Now() time.Time
}

type locationNowService struct {
	loc *time.Location
}

func (svc *locationNowService) Now() time.Time {
	return time.Now().In(svc.loc)
}

// NewNowService returns a now service bound to a given location
func NewNowService(loc *time.Location) NowService {
	return &locationNowService{loc: loc}
}
