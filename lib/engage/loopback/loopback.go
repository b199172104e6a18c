// Package loopback is an in-memory engage.SDK. It keeps person and device data
// in memory, answers interaction queries from a configured set of events and
// lets callers fire the listeners by hand, so a plugin can run end to end
// without a vendor SDK.
package loopback

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/snowmerak/engage.go/lib/engage"
)

// Call records one SDK call.
type Call struct {
	Method string
	Args   []any
}

type SDK struct {
	logger *slog.Logger

	personData *xsync.Map[string, any]
	deviceData *xsync.Map[string, any]
	events     *xsync.Map[string, bool]

	unread atomic.Int64

	mu             sync.Mutex
	config         *engage.Configuration
	personName     string
	personEmail    string
	push           map[engage.PushProvider]string
	attachments    []string
	calls          []Call
	surveyListener engage.SurveyFinishedListener
	unreadListener engage.UnreadMessageCountListener
}

var _ engage.SDK = (*SDK)(nil)

// New returns an empty SDK. Interactions are available for the given events.
func New(logger *slog.Logger, events ...string) *SDK {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SDK{
		logger:     logger,
		personData: xsync.NewMap[string, any](),
		deviceData: xsync.NewMap[string, any](),
		events:     xsync.NewMap[string, bool](),
		push:       make(map[engage.PushProvider]string),
	}
	for _, e := range events {
		s.events.Store(e, true)
	}
	return s
}

func (s *SDK) record(method string, args ...any) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: method, Args: args})
	s.mu.Unlock()
	s.logger.Debug("sdk call", slog.String("method", method), slog.Any("args", args))
}

func (s *SDK) Register(app *engage.Application, cfg engage.Configuration) error {
	s.record("Register", app.ID, cfg.APIKey)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("register %s: %w", app.ID, err)
	}
	s.mu.Lock()
	s.config = &cfg
	s.mu.Unlock()
	return nil
}

func (s *SDK) ShowMessageCenter(app *engage.Application, customData map[string]any, done engage.BoolCallback) {
	s.record("ShowMessageCenter", customData)
	go done(s.Registered())
}

func (s *SDK) CanShowMessageCenter(app *engage.Application, done engage.BoolCallback) {
	s.record("CanShowMessageCenter")
	go done(s.Registered())
}

func (s *SDK) Engage(app *engage.Application, event string, customData map[string]any, done engage.BoolCallback) {
	s.record("Engage", event, customData)
	_, ok := s.events.Load(event)
	go done(ok && s.Registered())
}

func (s *SDK) CanShowInteraction(app *engage.Application, event string, done engage.BoolCallback) {
	s.record("CanShowInteraction", event)
	_, ok := s.events.Load(event)
	go done(ok && s.Registered())
}

func (s *SDK) SetPersonName(name string) {
	s.record("SetPersonName", name)
	s.mu.Lock()
	s.personName = name
	s.mu.Unlock()
}

func (s *SDK) SetPersonEmail(email string) {
	s.record("SetPersonEmail", email)
	s.mu.Lock()
	s.personEmail = email
	s.mu.Unlock()
}

func (s *SDK) AddCustomPersonDataString(key, value string) {
	s.record("AddCustomPersonDataString", key, value)
	s.personData.Store(key, value)
}

func (s *SDK) AddCustomPersonDataBool(key string, value bool) {
	s.record("AddCustomPersonDataBool", key, value)
	s.personData.Store(key, value)
}

func (s *SDK) AddCustomPersonDataNumber(key string, value float64) {
	s.record("AddCustomPersonDataNumber", key, value)
	s.personData.Store(key, value)
}

func (s *SDK) RemoveCustomPersonData(key string) {
	s.record("RemoveCustomPersonData", key)
	s.personData.Delete(key)
}

func (s *SDK) AddCustomDeviceDataString(key, value string) {
	s.record("AddCustomDeviceDataString", key, value)
	s.deviceData.Store(key, value)
}

func (s *SDK) AddCustomDeviceDataBool(key string, value bool) {
	s.record("AddCustomDeviceDataBool", key, value)
	s.deviceData.Store(key, value)
}

func (s *SDK) AddCustomDeviceDataNumber(key string, value float64) {
	s.record("AddCustomDeviceDataNumber", key, value)
	s.deviceData.Store(key, value)
}

func (s *SDK) RemoveCustomDeviceData(key string) {
	s.record("RemoveCustomDeviceData", key)
	s.deviceData.Delete(key)
}

func (s *SDK) SetPushNotificationIntegration(app *engage.Application, provider engage.PushProvider, token string) {
	s.record("SetPushNotificationIntegration", provider.String(), token)
	s.mu.Lock()
	s.push[provider] = token
	s.mu.Unlock()
}

func (s *SDK) UnreadMessageCount() int {
	s.record("UnreadMessageCount")
	return int(s.unread.Load())
}

func (s *SDK) SendAttachmentText(text string) {
	s.record("SendAttachmentText", text)
	s.mu.Lock()
	s.attachments = append(s.attachments, text)
	s.mu.Unlock()
}

func (s *SDK) SetSurveyFinishedListener(l engage.SurveyFinishedListener) {
	s.record("SetSurveyFinishedListener", l != nil)
	s.mu.Lock()
	s.surveyListener = l
	s.mu.Unlock()
}

func (s *SDK) SetUnreadMessageCountListener(l engage.UnreadMessageCountListener) {
	s.record("SetUnreadMessageCountListener", l != nil)
	s.mu.Lock()
	s.unreadListener = l
	s.mu.Unlock()
}

// FinishSurvey simulates the user leaving a survey. It reports whether a
// listener was installed.
func (s *SDK) FinishSurvey(completed bool) bool {
	s.mu.Lock()
	l := s.surveyListener
	s.mu.Unlock()
	if l == nil {
		return false
	}
	l(completed)
	return true
}

// SetUnreadMessageCount changes the unread count and notifies the listener
// when the count actually changed.
func (s *SDK) SetUnreadMessageCount(count int) {
	if old := s.unread.Swap(int64(count)); old == int64(count) {
		return
	}
	s.mu.Lock()
	l := s.unreadListener
	s.mu.Unlock()
	if l != nil {
		l(count)
	}
}

// AddInteraction makes event engageable.
func (s *SDK) AddInteraction(event string) {
	s.events.Store(event, true)
}

// Registered reports whether Register succeeded.
func (s *SDK) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config != nil
}

// Configuration returns the configuration of the last successful Register.
func (s *SDK) Configuration() (engage.Configuration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return engage.Configuration{}, false
	}
	return *s.config, true
}

// Person returns the person name and email.
func (s *SDK) Person() (name, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.personName, s.personEmail
}

// PersonData returns a person custom data value.
func (s *SDK) PersonData(key string) (any, bool) {
	return s.personData.Load(key)
}

// DeviceData returns a device custom data value.
func (s *SDK) DeviceData(key string) (any, bool) {
	return s.deviceData.Load(key)
}

// PushToken returns the token registered for provider.
func (s *SDK) PushToken(provider engage.PushProvider) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.push[provider]
	return token, ok
}

// Attachments returns the texts sent to the message center.
func (s *SDK) Attachments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attachments)
}

// Calls returns every SDK call in order.
func (s *SDK) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}
