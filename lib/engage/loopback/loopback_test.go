package loopback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowmerak/engage.go/lib/engage"
)

var app = &engage.Application{ID: "com.example.test"}

func await(t *testing.T, call func(engage.BoolCallback)) bool {
	t.Helper()
	got := make(chan bool, 1)
	call(func(ok bool) { got <- ok })
	select {
	case ok := <-got:
		return ok
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
		return false
	}
}

func TestRegister(t *testing.T) {
	sdk := New(nil)

	require.Error(t, sdk.Register(app, engage.Configuration{APIKey: "k"}))
	assert.False(t, sdk.Registered())

	require.NoError(t, sdk.Register(app, engage.Configuration{APIKey: "k", APISignature: "s"}))
	assert.True(t, sdk.Registered())
	cfg, ok := sdk.Configuration()
	require.True(t, ok)
	assert.Equal(t, "k", cfg.APIKey)
}

func TestInteractionsNeedRegistration(t *testing.T) {
	sdk := New(nil, "launch")

	assert.False(t, await(t, func(done engage.BoolCallback) { sdk.Engage(app, "launch", nil, done) }))
	assert.False(t, await(t, func(done engage.BoolCallback) { sdk.ShowMessageCenter(app, nil, done) }))

	require.NoError(t, sdk.Register(app, engage.Configuration{APIKey: "k", APISignature: "s"}))

	assert.True(t, await(t, func(done engage.BoolCallback) { sdk.Engage(app, "launch", nil, done) }))
	assert.False(t, await(t, func(done engage.BoolCallback) { sdk.Engage(app, "other", nil, done) }))
	assert.True(t, await(t, func(done engage.BoolCallback) { sdk.CanShowMessageCenter(app, done) }))

	sdk.AddInteraction("other")
	assert.True(t, await(t, func(done engage.BoolCallback) { sdk.CanShowInteraction(app, "other", done) }))
}

func TestCustomData(t *testing.T) {
	sdk := New(nil)

	sdk.AddCustomPersonDataString("plan", "pro")
	sdk.AddCustomPersonDataBool("beta", true)
	sdk.AddCustomDeviceDataNumber("screens", 2)

	v, ok := sdk.PersonData("plan")
	require.True(t, ok)
	assert.Equal(t, "pro", v)
	v, _ = sdk.PersonData("beta")
	assert.Equal(t, true, v)
	v, _ = sdk.DeviceData("screens")
	assert.Equal(t, 2.0, v)

	sdk.RemoveCustomPersonData("plan")
	_, ok = sdk.PersonData("plan")
	assert.False(t, ok)

	calls := sdk.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "AddCustomPersonDataString", calls[0].Method)
	assert.Equal(t, []any{"plan", "pro"}, calls[0].Args)
	assert.Equal(t, "RemoveCustomPersonData", calls[3].Method)
}

func TestListeners(t *testing.T) {
	sdk := New(nil)
	assert.False(t, sdk.FinishSurvey(true), "no listener installed")

	var surveys []bool
	var counts []int
	sdk.SetSurveyFinishedListener(func(completed bool) { surveys = append(surveys, completed) })
	sdk.SetUnreadMessageCountListener(func(count int) { counts = append(counts, count) })

	assert.True(t, sdk.FinishSurvey(false))
	sdk.SetUnreadMessageCount(3)
	sdk.SetUnreadMessageCount(3)
	sdk.SetUnreadMessageCount(0)

	assert.Equal(t, []bool{false}, surveys)
	assert.Equal(t, []int{3, 0}, counts, "unchanged counts are not reported")
	assert.Equal(t, 0, sdk.UnreadMessageCount())
}

func TestPushAndAttachments(t *testing.T) {
	sdk := New(nil)

	sdk.SetPushNotificationIntegration(app, engage.PushProviderParse, "token")
	token, ok := sdk.PushToken(engage.PushProviderParse)
	require.True(t, ok)
	assert.Equal(t, "token", token)
	_, ok = sdk.PushToken(engage.PushProviderAmazonSNS)
	assert.False(t, ok)

	sdk.SetPersonName("Ada")
	sdk.SetPersonEmail("ada@example.com")
	name, email := sdk.Person()
	assert.Equal(t, "Ada", name)
	assert.Equal(t, "ada@example.com", email)

	sdk.SendAttachmentText("hello")
	assert.Equal(t, []string{"hello"}, sdk.Attachments())
}
