// Package events writes the append-only lifecycle log that the offline
// report reads back. One JSON object per line.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event names.
const (
	RequestStarted   = "request_started"
	Dispatched       = "dispatched"
	ResponseReceived = "response_received"
	VoteResult       = "vote_result"
	RequestFinished  = "request_finished"
	RepairSent       = "repair_sent"
)

// Field keys shared with the report reader.
const (
	KeyTime          = "ts"
	KeyEvent         = "event"
	KeyInstance      = "instance"
	KeyRequestID     = "request_id"
	KeyReplicaID     = "replica_id"
	KeyStatus        = "status"
	KeyTargets       = "targets"
	KeyDiscrepant    = "discrepant"
	KeyNonResponding = "non_responding"
	KeyWaitTime      = "wait_time"
	KeyResponse      = "response"
)

// Log records lifecycle events. The zero value and nil discard everything.
type Log struct {
	lg    *zap.Logger
	close func()
	once  sync.Once
}

// Open appends events to path. Use "stdout" or "stderr" for streams.
// Request ids restart with every process, so instance must be unique per
// run for the report to tell runs sharing one file apart.
func Open(path, instance string) (*Log, error) {
	ws, closeFn, err := zap.Open(path)
	if err != nil {
		return nil, err
	}
	return New(ws, closeFn, instance), nil
}

// New writes events to ws, tagging every line with instance when set.
func New(ws zapcore.WriteSyncer, closeFn func(), instance string) *Log {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        KeyTime,
		MessageKey:     KeyEvent,
		EncodeTime:     zapcore.EpochTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	})
	lg := zap.New(zapcore.NewCore(enc, ws, zapcore.InfoLevel))
	if instance != "" {
		lg = lg.With(zap.String(KeyInstance, instance))
	}
	return &Log{lg: lg, close: closeFn}
}

// Nop returns a log that discards events.
func Nop() *Log {
	return &Log{}
}

func (l *Log) write(event string, fields ...zap.Field) {
	if l == nil || l.lg == nil {
		return
	}
	l.lg.Info(event, fields...)
}

// Started records a new request and its targets.
func (l *Log) Started(requestID string, targets []string) {
	l.write(RequestStarted, zap.String(KeyRequestID, requestID), zap.Strings(KeyTargets, targets))
}

// Dispatched records one message published to a replica.
func (l *Log) Dispatched(requestID, replicaID string) {
	l.write(Dispatched, zap.String(KeyRequestID, requestID), zap.String(KeyReplicaID, replicaID))
}

// Received records an ingested reply and what the store did with it.
func (l *Log) Received(requestID, replicaID, status string, receivedAt time.Time, response map[string]any) {
	l.write(ResponseReceived,
		zap.String(KeyRequestID, requestID),
		zap.String(KeyReplicaID, replicaID),
		zap.String(KeyStatus, status),
		zap.Time("received_at", receivedAt),
		zap.Any(KeyResponse, response),
	)
}

// Vote records the outcome of a resolution.
func (l *Log) Vote(requestID, state string, value map[string]any, discrepant, nonResponding []string, wait time.Duration) {
	l.write(VoteResult,
		zap.String(KeyRequestID, requestID),
		zap.String(KeyStatus, state),
		zap.Strings(KeyDiscrepant, discrepant),
		zap.Strings(KeyNonResponding, nonResponding),
		zap.Duration(KeyWaitTime, wait),
		zap.Any(KeyResponse, value),
	)
}

// Finished records the end of a request, including dispatch failures.
func (l *Log) Finished(requestID, status string, wait time.Duration) {
	l.write(RequestFinished,
		zap.String(KeyRequestID, requestID),
		zap.String(KeyStatus, status),
		zap.Duration(KeyWaitTime, wait),
	)
}

// Repair records a read repair sent to a replica.
func (l *Log) Repair(requestID, replicaID, status string) {
	l.write(RepairSent,
		zap.String(KeyRequestID, requestID),
		zap.String(KeyReplicaID, replicaID),
		zap.String(KeyStatus, status),
	)
}

// Close flushes and closes the underlying file. Later calls do nothing.
func (l *Log) Close() error {
	if l == nil || l.lg == nil {
		return nil
	}
	var err error
	l.once.Do(func() {
		err = l.lg.Sync()
		if l.close != nil {
			l.close()
		}
	})
	return err
}
