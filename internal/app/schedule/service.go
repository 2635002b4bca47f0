// Package schedule books sessions and decides whether a launch link may
// still be used.
package schedule

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoLaunch/internal/calendar"
	"github.com/dkeye/VideoLaunch/internal/domain"
	"github.com/dkeye/VideoLaunch/internal/launch"
	"github.com/dkeye/VideoLaunch/internal/store"
)

const (
	passcodeLen      = 8
	nameAttempts     = 5
	passcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	eventStatus      = "confirmed"
	linkPrefix       = "Your session join link is: \n"
)

var (
	ErrInvalidEmail = errors.New("invalid attendee email")
	ErrInvalidStart = errors.New("invalid session start")
	ErrNoSession    = errors.New("no valid session could be found")
	ErrForbidden    = errors.New("you are not allowed to access this session")
	ErrNotStarted   = errors.New("this session has not started yet, try again no earlier than 15 minutes before start")
	ErrEnded        = errors.New("this session has already ended and can no longer be joined")
)

type SessionRepo interface {
	Insert(ctx context.Context, sess domain.ScheduledSession) error
	Get(ctx context.Context, name domain.SessionName) (domain.ScheduledSession, error)
	Delete(ctx context.Context, name domain.SessionName) error
}

type EventCreator interface {
	CreateEvent(ctx context.Context, calendarID string, ev calendar.Event) (string, error)
}

type Config struct {
	BaseURL    string
	HostEmail  string
	Summary    string
	Location   string
	TimeZone   *time.Location
	CalendarID string
}

type Service struct {
	cfg    Config
	repo   SessionRepo
	events EventCreator
	now    func() time.Time
}

// NewService wires the scheduler. events may be nil when no calendar is configured.
func NewService(cfg Config, repo SessionRepo, events EventCreator) *Service {
	if cfg.TimeZone == nil {
		cfg.TimeZone = time.UTC
	}
	return &Service{cfg: cfg, repo: repo, events: events, now: time.Now}
}

type Request struct {
	AttendeeEmail string    `json:"attendeeEmail"`
	Start         time.Time `json:"sessionDate"`
}

type Result struct {
	SessionName domain.SessionName `json:"sessionName"`
	Passcode    string             `json:"passcode"`
	Start       time.Time          `json:"start"`
	JoinLink    string             `json:"joinLink"`
	EventID     string             `json:"eventId,omitempty"`
}

func (s *Service) Schedule(ctx context.Context, req Request) (Result, error) {
	addr, err := mail.ParseAddress(req.AttendeeEmail)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	if req.Start.IsZero() {
		return Result{}, ErrInvalidStart
	}
	if _, closes := (domain.ScheduledSession{Start: req.Start}).JoinWindow(); closes.Before(s.now()) {
		return Result{}, fmt.Errorf("%w: start is in the past", ErrInvalidStart)
	}

	sess, err := s.book(ctx, req.Start, addr.Address)
	if err != nil {
		return Result{}, err
	}
	name := sess.SessionName
	id := domain.LaunchIdentity{SessionName: name, Passcode: sess.Passcode}
	link, err := launch.JoinLink(s.cfg.BaseURL, id)
	if err != nil {
		s.unbook(name)
		return Result{}, err
	}

	res := Result{SessionName: name, Passcode: sess.Passcode, Start: req.Start, JoinLink: link}
	if s.events != nil {
		ev := calendar.Event{
			Start:       calendar.NewDateTime(req.Start, s.cfg.TimeZone),
			End:         calendar.NewDateTime(req.Start.Add(domain.SessionDuration), s.cfg.TimeZone),
			Attendees:   []calendar.Attendee{{Email: addr.Address}},
			Location:    s.cfg.Location,
			Summary:     s.cfg.Summary,
			Description: linkPrefix + link,
			Status:      eventStatus,
		}
		res.EventID, err = s.events.CreateEvent(ctx, s.cfg.CalendarID, ev)
		if err != nil {
			s.unbook(name)
			return Result{}, fmt.Errorf("create calendar event: %w", err)
		}
	}

	log.Info().Str("module", "schedule").Str("session", string(name)).Time("start", req.Start).Msg("session scheduled")
	return res, nil
}

// Validate checks a decoded launch identity against the booking.
func (s *Service) Validate(ctx context.Context, id domain.LaunchIdentity) error {
	sess, err := s.repo.Get(ctx, id.SessionName)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(sess.Passcode), []byte(id.Passcode)) != 1 {
		return ErrForbidden
	}
	now := s.now()
	opens, closes := sess.JoinWindow()
	if now.Before(opens) {
		return ErrNotStarted
	}
	if now.After(closes) {
		return ErrEnded
	}
	return nil
}

// book stores a new session under a fresh name, drawing again on collision.
func (s *Service) book(ctx context.Context, start time.Time, attendee string) (domain.ScheduledSession, error) {
	for i := 0; i < nameAttempts; i++ {
		name, err := s.sessionName()
		if err != nil {
			return domain.ScheduledSession{}, err
		}
		pass, err := randomString(passcodeLen, passcodeAlphabet)
		if err != nil {
			return domain.ScheduledSession{}, fmt.Errorf("generate passcode: %w", err)
		}
		sess := domain.ScheduledSession{
			SessionName:   name,
			Passcode:      pass,
			Start:         start,
			HostEmail:     s.cfg.HostEmail,
			AttendeeEmail: attendee,
			CreatedAt:     s.now(),
		}
		err = s.repo.Insert(ctx, sess)
		if errors.Is(err, store.ErrDuplicate) {
			log.Warn().Str("module", "schedule").Str("session", string(name)).Msg("session name taken, drawing again")
			continue
		}
		if err != nil {
			return domain.ScheduledSession{}, fmt.Errorf("store scheduled session: %w", err)
		}
		return sess, nil
	}
	return domain.ScheduledSession{}, fmt.Errorf("store scheduled session: %w", store.ErrDuplicate)
}

// unbook drops a session whose link was never handed out.
func (s *Service) unbook(name domain.SessionName) {
	if err := s.repo.Delete(context.Background(), name); err != nil {
		log.Error().Err(err).Str("module", "schedule").Str("session", string(name)).Msg("remove unbooked session")
	}
}

func (s *Service) sessionName() (domain.SessionName, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9_000_000))
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return domain.SessionName(fmt.Sprintf("%s (%d)", s.cfg.Summary, 1_000_000+n.Int64())), nil
}

func randomString(n int, alphabet string) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range out {
		k, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[k.Int64()]
	}
	return string(out), nil
}
