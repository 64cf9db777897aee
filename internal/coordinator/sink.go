package coordinator

import (
	"context"

	"github.com/sirupsen/logrus"
)

// DataRequest correlates an on-chain identity with an off-chain data pull.
// The coordinator's job ends at producing it; a collaborator carries out the
// actual request.
type DataRequest struct {
	ActivityType string `json:"activityType"`
	GoalID       string `json:"goalId"`
	AccessToken  string `json:"accessToken"`
	Account      string `json:"account"`
}

// DataSink receives verification data requests.
type DataSink interface {
	Submit(ctx context.Context, req DataRequest) error
}

// LogSink records data requests in the log, the default collaborator when
// nothing downstream is wired up.
type LogSink struct {
	Log *logrus.Entry
}

func (s LogSink) Submit(_ context.Context, req DataRequest) error {
	s.Log.WithField("activity_type", req.ActivityType).
		WithField("goal", req.GoalID).
		WithField("account", req.Account).
		Info("verification data requested")
	return nil
}
