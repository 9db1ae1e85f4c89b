package imessage

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/channel"
)

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func TestAppleTime_ZeroIsAppleEpoch(t *testing.T) {
	assert.Equal(t, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), appleTime(0))
}

func TestAppleTime_KnownInstant(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ns := (want.Unix() - appleEpochOffset) * 1e9
	assert.Equal(t, want, appleTime(ns))
}

func TestNormalize_DirectMessage(t *testing.T) {
	row := messageRow{
		RowID:          51,
		GUID:           "g-1",
		Text:           nullStr("hi"),
		Sender:         nullStr("+15551234567"),
		ChatIdentifier: nullStr("+15551234567"),
	}
	env := normalize(row, nil)
	assert.NotNil(t, env)
	assert.Equal(t, channel.IMessage, env.Channel)
	assert.Equal(t, "g-1", env.PlatformMessageID)
	assert.Equal(t, "+15551234567", env.ConversationID)
	assert.Equal(t, "+15551234567", env.PeerID)
	assert.Equal(t, "hi", env.Text)
	assert.False(t, env.IsGroup)
	assert.Empty(t, env.GroupName)
	assert.NoError(t, env.Validate())
}

func TestNormalize_GroupMessage(t *testing.T) {
	row := messageRow{
		RowID:          52,
		GUID:           "g-2",
		Text:           nullStr("hey team"),
		Sender:         nullStr("+15550001111"),
		ChatIdentifier: nullStr("chat999"),
		DisplayName:    nullStr("Team"),
		GroupID:        nullStr("chat999"),
	}
	env := normalize(row, nil)
	assert.NotNil(t, env)
	assert.True(t, env.IsGroup)
	assert.Equal(t, "Team", env.GroupName)
	assert.Equal(t, "chat999", env.ConversationID)
}

func TestNormalize_Attachments(t *testing.T) {
	row := messageRow{RowID: 52, GUID: "g-2", Sender: nullStr("+1555"), ChatIdentifier: nullStr("chat999"), GroupID: nullStr("chat999")}
	atts := []attachmentRow{
		{MessageID: 52, Filename: nullStr("/p.jpg"), MimeType: nullStr("image/jpeg"),
			TransferName: nullStr("p.jpg"), TotalBytes: sql.NullInt64{Int64: 100, Valid: true}},
		{MessageID: 52, Filename: sql.NullString{}, MimeType: nullStr("image/png")},
		{MessageID: 52, Filename: nullStr("/doc.bin")},
	}
	env := normalize(row, atts)
	assert.NotNil(t, env)
	assert.Len(t, env.Media, 2, "attachment without filename is dropped")
	assert.Equal(t, channel.KindImage, env.Media[0].Kind)
	assert.Equal(t, "/p.jpg", env.Media[0].Ref)
	assert.Equal(t, "image/jpeg", env.Media[0].MimeType)
	assert.Equal(t, "p.jpg", env.Media[0].FileName)
	assert.Equal(t, int64(100), env.Media[0].Size)
	assert.Equal(t, channel.KindDocument, env.Media[1].Kind, "nil mime falls back to document")
}

func TestNormalize_EmptyIsDropped(t *testing.T) {
	row := messageRow{RowID: 53, GUID: "g-3", Sender: nullStr("+1555"), ChatIdentifier: nullStr("+1555")}
	assert.Nil(t, normalize(row, nil))

	// An attachment row whose filename is null does not rescue the message.
	atts := []attachmentRow{{MessageID: 53}}
	assert.Nil(t, normalize(row, atts))
}

func TestNormalize_ConversationFallsBackToSender(t *testing.T) {
	row := messageRow{RowID: 54, GUID: "g-4", Text: nullStr("hi"), Sender: nullStr("+1555")}
	env := normalize(row, nil)
	assert.NotNil(t, env)
	assert.Equal(t, "+1555", env.ConversationID)
}

func TestBuildSendScript(t *testing.T) {
	dm := buildSendScript("+15551234567", "hello", false)
	assert.Contains(t, dm, `participant "+15551234567"`)
	assert.Contains(t, dm, `send "hello"`)

	group := buildSendScript("chat999", "hello", true)
	assert.Contains(t, group, `chat id "iMessage;+;chat999"`)

	full := buildSendScript("iMessage;+;chat999", "hello", true)
	assert.Contains(t, full, `chat id "iMessage;+;chat999"`)
	assert.NotContains(t, full, "iMessage;+;iMessage")
}

func TestBuildSendScript_Escaping(t *testing.T) {
	s := buildSendScript("+1555", `say "hi" c:\path`, false)
	assert.Contains(t, s, `send "say \"hi\" c:\\path"`)
}
