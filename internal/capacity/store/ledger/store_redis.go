package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"roster/internal/capacity"
	"roster/pkg/domain"
)

var scriptDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "roster_ledger_script_duration_ms",
	Help:    "Latency of Redis ledger scripts in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
}, []string{"op"})

const keyPrefix = "roster:shift:"

// RedisLedger implements capacity.Ledger on Redis. Every operation is one Lua
// script over a shift's keys, which share a hash tag so they land in the same
// cluster slot.
type RedisLedger struct {
	client redis.UniversalClient
}

func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

func shiftKeys(id domain.ShiftID) []string {
	tag := "{" + id.String() + "}"
	return []string{
		keyPrefix + tag + ":meta",
		keyPrefix + tag + ":holders",
		keyPrefix + tag + ":waitlist",
	}
}

func eventKey(id domain.EventID) string {
	return "roster:event:" + id.String() + ":shifts"
}

func observe(op string, start time.Time) {
	scriptDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

func (l *RedisLedger) Define(ctx context.Context, shiftID domain.ShiftID, eventID domain.EventID, slots int) error {
	defer observe("define", time.Now())
	if slots < 0 {
		return capacity.ErrInvalidCapacity
	}
	if err := defineScript.Run(ctx, l.client, shiftKeys(shiftID), slots).Err(); err != nil {
		return fmt.Errorf("define shift: %w", err)
	}
	// The event index lives outside the shift's slot; SADD is idempotent.
	if err := l.client.SAdd(ctx, eventKey(eventID), shiftID.String()).Err(); err != nil {
		return fmt.Errorf("index shift: %w", err)
	}
	return nil
}

func (l *RedisLedger) TryReserve(ctx context.Context, shiftID domain.ShiftID, regID domain.RegistrationID, confirmed bool) (capacity.Reservation, error) {
	defer observe("reserve", time.Now())
	flag := "0"
	if confirmed {
		flag = "1"
	}
	vals, err := reserveScript.Run(ctx, l.client, shiftKeys(shiftID), regID.String(), flag).Int64Slice()
	if err != nil {
		return capacity.Reservation{}, fmt.Errorf("reserve slot: %w", err)
	}
	existing := vals[2] == 1
	switch vals[0] {
	case -1:
		return capacity.Reservation{}, capacity.ErrUnknownShift
	case 1:
		return capacity.Reservation{OK: true, Existing: existing}, nil
	default:
		return capacity.Reservation{Waitlisted: true, Position: int(vals[1]), Existing: existing}, nil
	}
}

func (l *RedisLedger) Release(ctx context.Context, shiftID domain.ShiftID, regID domain.RegistrationID) (capacity.ReleaseResult, error) {
	defer observe("release", time.Now())
	status, promoted, err := runPromote(ctx, releaseScript, l.client, shiftKeys(shiftID), regID.String())
	if err != nil {
		return capacity.ReleaseResult{}, fmt.Errorf("release slot: %w", err)
	}
	switch status {
	case -1:
		return capacity.ReleaseResult{}, capacity.ErrUnknownShift
	case 0:
		return capacity.ReleaseResult{}, nil
	}
	return capacity.ReleaseResult{Released: true, Promoted: promoted}, nil
}

func (l *RedisLedger) PromoteFromWaitlist(ctx context.Context, shiftID domain.ShiftID) (*domain.RegistrationID, error) {
	defer observe("promote", time.Now())
	status, promoted, err := runPromote(ctx, promoteScript, l.client, shiftKeys(shiftID))
	if err != nil {
		return nil, fmt.Errorf("promote from waitlist: %w", err)
	}
	if status == -1 {
		return nil, capacity.ErrUnknownShift
	}
	return promoted, nil
}

func (l *RedisLedger) Withdraw(ctx context.Context, shiftID domain.ShiftID, regID domain.RegistrationID) (bool, error) {
	defer observe("withdraw", time.Now())
	n, err := withdrawScript.Run(ctx, l.client, shiftKeys(shiftID), regID.String()).Int64()
	if err != nil {
		return false, fmt.Errorf("withdraw from waitlist: %w", err)
	}
	if n == -1 {
		return false, capacity.ErrUnknownShift
	}
	return n == 1, nil
}

func (l *RedisLedger) Claim(ctx context.Context, shiftID domain.ShiftID, regID domain.RegistrationID) error {
	defer observe("claim", time.Now())
	n, err := claimScript.Run(ctx, l.client, shiftKeys(shiftID), regID.String()).Int64()
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	switch n {
	case -1:
		return capacity.ErrUnknownShift
	case 0:
		return capacity.ErrShiftFull
	}
	return nil
}

func (l *RedisLedger) MarkConfirmed(ctx context.Context, shiftID domain.ShiftID, regID domain.RegistrationID) error {
	defer observe("mark_confirmed", time.Now())
	n, err := markConfirmedScript.Run(ctx, l.client, shiftKeys(shiftID), regID.String()).Int64()
	if err != nil {
		return fmt.Errorf("mark confirmed: %w", err)
	}
	switch n {
	case -1:
		return capacity.ErrUnknownShift
	case 0:
		return capacity.ErrNotHeld
	}
	return nil
}

func (l *RedisLedger) Resize(ctx context.Context, shiftID domain.ShiftID, newCapacity int) ([]domain.RegistrationID, error) {
	defer observe("resize", time.Now())
	if newCapacity < 0 {
		return nil, capacity.ErrInvalidCapacity
	}
	raw, err := resizeScript.Run(ctx, l.client, shiftKeys(shiftID), newCapacity).Slice()
	if err != nil {
		return nil, fmt.Errorf("resize shift: %w", err)
	}
	status, _ := raw[0].(int64)
	switch status {
	case -1:
		return nil, capacity.ErrUnknownShift
	case 0:
		return nil, capacity.ErrCapacityBelowHeld
	}
	promoted := make([]domain.RegistrationID, 0, len(raw)-1)
	for _, v := range raw[1:] {
		id, err := parseRegistration(v)
		if err != nil {
			return nil, err
		}
		promoted = append(promoted, id)
	}
	return promoted, nil
}

func (l *RedisLedger) Counts(ctx context.Context, shiftID domain.ShiftID) (capacity.Counts, error) {
	defer observe("counts", time.Now())
	vals, err := countsScript.Run(ctx, l.client, shiftKeys(shiftID)).Int64Slice()
	if err != nil {
		return capacity.Counts{}, fmt.Errorf("read counts: %w", err)
	}
	if vals[0] == -1 {
		return capacity.Counts{}, capacity.ErrUnknownShift
	}
	return capacity.Counts{
		Capacity:   int(vals[0]),
		Held:       int(vals[1]),
		Confirmed:  int(vals[2]),
		Waitlisted: int(vals[3]),
	}, nil
}

func (l *RedisLedger) EventCounts(ctx context.Context, eventID domain.EventID) (capacity.Counts, error) {
	members, err := l.client.SMembers(ctx, eventKey(eventID)).Result()
	if err != nil {
		return capacity.Counts{}, fmt.Errorf("list event shifts: %w", err)
	}
	var total capacity.Counts
	for _, m := range members {
		id, err := domain.ParseShiftID(m)
		if err != nil {
			return capacity.Counts{}, err
		}
		c, err := l.Counts(ctx, id)
		if err != nil {
			return capacity.Counts{}, err
		}
		total = total.Add(c)
	}
	return total, nil
}

// runPromote runs a script returning {status, promotedID|""}.
func runPromote(ctx context.Context, script *redis.Script, client redis.Scripter, keys []string, args ...any) (int64, *domain.RegistrationID, error) {
	raw, err := script.Run(ctx, client, keys, args...).Slice()
	if err != nil {
		return 0, nil, err
	}
	status, _ := raw[0].(int64)
	if s, _ := raw[1].(string); s != "" {
		id, err := domain.ParseRegistrationID(s)
		if err != nil {
			return 0, nil, err
		}
		return status, &id, nil
	}
	return status, nil, nil
}

func parseRegistration(v any) (domain.RegistrationID, error) {
	s, ok := v.(string)
	if !ok {
		return domain.RegistrationID{}, fmt.Errorf("unexpected waitlist member %T", v)
	}
	return domain.ParseRegistrationID(s)
}
