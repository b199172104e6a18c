package bridge

import (
	"context"
	"fmt"

	"github.com/snowmerak/engage.go/lib/args"
	"github.com/snowmerak/engage.go/lib/channel"
	"github.com/snowmerak/engage.go/lib/engage"
)

// Method names answered by the bridge.
const (
	MethodRegister                       = "register"
	MethodShowMessageCenter              = "showMessageCenter"
	MethodCanShowMessageCenter           = "canShowMessageCenter"
	MethodEngage                         = "engage"
	MethodCanShowInteraction             = "canShowInteraction"
	MethodSetPersonName                  = "setPersonName"
	MethodSetPersonEmail                 = "setPersonEmail"
	MethodAddCustomPersonData            = "addCustomPersonData"
	MethodRemoveCustomPersonData         = "removeCustomPersonData"
	MethodAddCustomDeviceData            = "addCustomDeviceData"
	MethodRemoveCustomDeviceData         = "removeCustomDeviceData"
	MethodSetPushNotificationIntegration = "setPushNotificationIntegration"
	MethodGetUnreadMessageCount          = "getUnreadMessageCount"
	MethodRegisterListeners              = "registerListeners"
	MethodSendAttachmentText             = "sendAttachmentText"
	MethodRequestPushPermissions         = "requestPushPermissions"
)

const (
	keyCustomData   = "custom_data"
	keyEventName    = "event_name"
	keyName         = "name"
	keyEmail        = "email"
	keyKey          = "key"
	keyValue        = "value"
	keyPushProvider = "push_provider"
	keyToken        = "token"
	keyText         = "text"
)

func (b *Bridge) registerMethods() {
	b.register(MethodRegister, true, b.handleRegister)
	b.register(MethodShowMessageCenter, true, b.handleShowMessageCenter)
	b.register(MethodCanShowMessageCenter, true, b.handleCanShowMessageCenter)
	b.register(MethodEngage, true, b.handleEngage)
	b.register(MethodCanShowInteraction, true, b.handleCanShowInteraction)
	b.register(MethodSetPersonName, true, b.handleSetPersonName)
	b.register(MethodSetPersonEmail, true, b.handleSetPersonEmail)
	b.register(MethodAddCustomPersonData, true, b.handleAddCustomPersonData)
	b.register(MethodRemoveCustomPersonData, true, b.handleRemoveCustomPersonData)
	b.register(MethodAddCustomDeviceData, true, b.handleAddCustomDeviceData)
	b.register(MethodRemoveCustomDeviceData, true, b.handleRemoveCustomDeviceData)
	b.register(MethodSetPushNotificationIntegration, true, b.handleSetPushNotificationIntegration)
	b.register(MethodGetUnreadMessageCount, true, b.handleGetUnreadMessageCount)
	b.register(MethodRegisterListeners, true, b.handleRegisterListeners)
	b.register(MethodSendAttachmentText, true, b.handleSendAttachmentText)
	b.register(MethodRequestPushPermissions, false, b.handleRequestPushPermissions)
}

func resolved(r channel.Result) *channel.Promise {
	return channel.Resolved(r)
}

// await returns a promise and the SDK callback that settles it.
func await() (*channel.Promise, engage.BoolCallback) {
	p := channel.NewPromise()
	return p, func(ok bool) {
		p.Resolve(channel.Success(ok))
	}
}

func (b *Bridge) handleRegister(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	cfg, err := unpackConfiguration(call.Arguments)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	if err := b.sdk.Register(app, cfg); err != nil {
		return resolved(channel.Failure(ErrorCodeException, fmt.Sprintf("unable to register SDK: %v", err), nil))
	}
	return resolved(channel.Success(true))
}

// handleShowMessageCenter takes custom data from custom_data when present and
// from the top-level bag otherwise.
func (b *Bridge) handleShowMessageCenter(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	data, err := customData(call.Arguments, keyCustomData)
	if err == nil && !call.Arguments.Has(keyCustomData) {
		data, err = bagCustomData(call.Arguments)
	}
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	p, callback := await()
	b.sdk.ShowMessageCenter(app, data, callback)
	return p
}

func (b *Bridge) handleCanShowMessageCenter(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	p, callback := await()
	b.sdk.CanShowMessageCenter(app, callback)
	return p
}

func (b *Bridge) handleEngage(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	event, err := requireString(call.Arguments, keyEventName)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	data, err := customData(call.Arguments, keyCustomData)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	p, callback := await()
	b.sdk.Engage(app, event, data, callback)
	return p
}

func (b *Bridge) handleCanShowInteraction(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	event, err := requireString(call.Arguments, keyEventName)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	p, callback := await()
	b.sdk.CanShowInteraction(app, event, callback)
	return p
}

func (b *Bridge) handleSetPersonName(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	name, err := optionalString(call.Arguments, keyName)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	b.sdk.SetPersonName(name)
	return resolved(channel.Success(true))
}

func (b *Bridge) handleSetPersonEmail(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	email, err := optionalString(call.Arguments, keyEmail)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	b.sdk.SetPersonEmail(email)
	return resolved(channel.Success(true))
}

// customDataSink is one of the SDK's custom data stores.
type customDataSink struct {
	str     func(key, value string)
	boolean func(key string, value bool)
	number  func(key string, value float64)
}

func (b *Bridge) personData() customDataSink {
	return customDataSink{
		str:     b.sdk.AddCustomPersonDataString,
		boolean: b.sdk.AddCustomPersonDataBool,
		number:  b.sdk.AddCustomPersonDataNumber,
	}
}

func (b *Bridge) deviceData() customDataSink {
	return customDataSink{
		str:     b.sdk.AddCustomDeviceDataString,
		boolean: b.sdk.AddCustomDeviceDataBool,
		number:  b.sdk.AddCustomDeviceDataNumber,
	}
}

// addCustomData stores the value under key with the setter matching its
// type. An absent value is accepted and stores nothing.
func addCustomData(call *channel.MethodCall, sink customDataSink) channel.Result {
	key, err := requireString(call.Arguments, keyKey)
	if err != nil {
		return argumentFailure(call.Method, err)
	}
	value, err := scalar(call.Arguments, keyValue)
	if err != nil {
		return argumentFailure(call.Method, err)
	}

	switch value.Kind() {
	case args.KindAbsent:
	case args.KindString:
		s, _ := value.Str()
		sink.str(key, s)
	case args.KindBool:
		v, _ := value.Bool()
		sink.boolean(key, v)
	case args.KindNumber:
		n, _ := value.Number()
		sink.number(key, n)
	default:
		return argumentFailure(call.Method, argumentError(keyValue, fmt.Errorf("%s: %w", value.Kind(), args.ErrUnsupportedType)))
	}
	return channel.Success(true)
}

func (b *Bridge) handleAddCustomPersonData(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	return resolved(addCustomData(call, b.personData()))
}

func (b *Bridge) handleAddCustomDeviceData(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	return resolved(addCustomData(call, b.deviceData()))
}

func (b *Bridge) handleRemoveCustomPersonData(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	key, err := requireString(call.Arguments, keyKey)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	b.sdk.RemoveCustomPersonData(key)
	return resolved(channel.Success(true))
}

func (b *Bridge) handleRemoveCustomDeviceData(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	key, err := requireString(call.Arguments, keyKey)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	b.sdk.RemoveCustomDeviceData(key)
	return resolved(channel.Success(true))
}

func (b *Bridge) handleSetPushNotificationIntegration(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	name, err := requireString(call.Arguments, keyPushProvider)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	provider, err := engage.ParsePushProvider(name)
	if err != nil {
		return resolved(argumentFailure(call.Method, argumentError(keyPushProvider, err)))
	}
	token, err := requireString(call.Arguments, keyToken)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	b.sdk.SetPushNotificationIntegration(app, provider, token)
	return resolved(channel.Success(true))
}

func (b *Bridge) handleGetUnreadMessageCount(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	return resolved(channel.Success(b.sdk.UnreadMessageCount()))
}

func (b *Bridge) handleRegisterListeners(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	b.registerListeners()
	return resolved(channel.Success(true))
}

func (b *Bridge) handleSendAttachmentText(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	text, err := requireString(call.Arguments, keyText)
	if err != nil {
		return resolved(argumentFailure(call.Method, err))
	}
	b.sdk.SendAttachmentText(text)
	return resolved(channel.Success(true))
}

// handleRequestPushPermissions answers nil without touching the SDK. The
// platform SDK asks for notification permission on its own.
func (b *Bridge) handleRequestPushPermissions(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise {
	return resolved(channel.Success(nil))
}
