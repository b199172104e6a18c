// Package engage describes the engagement SDK the bridge drives: the calls it
// exposes, the configuration it is registered with and the application handle
// it runs inside.
package engage

// BoolCallback receives the outcome of an asynchronous SDK call. An SDK may
// call it from any goroutine.
type BoolCallback func(ok bool)

// SurveyFinishedListener is called when the user completes or dismisses a survey.
type SurveyFinishedListener func(completed bool)

// UnreadMessageCountListener is called when the message center unread count changes.
type UnreadMessageCountListener func(count int)

// SDK is the engagement SDK surface. Implementations own all interaction
// logic, survey state, message storage and push delivery; callers only
// forward requests and results.
type SDK interface {
	Register(app *Application, cfg Configuration) error

	ShowMessageCenter(app *Application, customData map[string]any, done BoolCallback)
	CanShowMessageCenter(app *Application, done BoolCallback)
	Engage(app *Application, event string, customData map[string]any, done BoolCallback)
	CanShowInteraction(app *Application, event string, done BoolCallback)

	SetPersonName(name string)
	SetPersonEmail(email string)

	AddCustomPersonDataString(key, value string)
	AddCustomPersonDataBool(key string, value bool)
	AddCustomPersonDataNumber(key string, value float64)
	RemoveCustomPersonData(key string)

	AddCustomDeviceDataString(key, value string)
	AddCustomDeviceDataBool(key string, value bool)
	AddCustomDeviceDataNumber(key string, value float64)
	RemoveCustomDeviceData(key string)

	SetPushNotificationIntegration(app *Application, provider PushProvider, token string)
	UnreadMessageCount() int
	SendAttachmentText(text string)

	// Passing nil removes the listener.
	SetSurveyFinishedListener(l SurveyFinishedListener)
	SetUnreadMessageCountListener(l UnreadMessageCountListener)
}

// Application is the host context the SDK runs in.
type Application struct {
	ID      string
	Name    string
	Version string
	DataDir string
}
