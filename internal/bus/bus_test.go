package bus_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushkindt/pushkind-hedwig/internal/bus"
)

func TestJob_RetryEmail(t *testing.T) {
	var job bus.Job
	require.NoError(t, json.Unmarshal([]byte(`{"RetryEmail":[7,3]}`), &job))

	require.NotNil(t, job.Retry)
	assert.Nil(t, job.New)
	assert.Equal(t, int32(7), job.Retry.EmailID)
	assert.Equal(t, int32(3), job.Retry.HubID)
}

func TestJob_NewEmail(t *testing.T) {
	payload := `{"NewEmail":[{"id":99,"login":"ops"},{
		"hub_id": 3,
		"subject": "Hello",
		"body": "Dear {title}",
		"recipients": [{"address":"a@x","name":"Ada","fields":{"title":"Dr"}}]
	}]}`

	var job bus.Job
	require.NoError(t, json.Unmarshal([]byte(payload), &job))

	require.NotNil(t, job.New)
	assert.Nil(t, job.Retry)
	assert.Equal(t, int32(3), job.New.Payload.HubID)
	assert.Equal(t, "Hello", job.New.Payload.Subject)
	require.Len(t, job.New.Payload.Recipients, 1)
	assert.Equal(t, "a@x", job.New.Payload.Recipients[0].Address)
	assert.Equal(t, map[string]string{"title": "Dr"}, job.New.Payload.Recipients[0].Fields)
}

func TestJob_UserElementIgnoredRegardlessOfShape(t *testing.T) {
	for _, user := range []string{`null`, `42`, `"someone"`, `[1,2]`} {
		var job bus.Job
		err := json.Unmarshal([]byte(`{"NewEmail":[`+user+`,{"hub_id":1,"subject":"s","body":"b","recipients":[]}]}`), &job)
		require.NoError(t, err, "user=%s", user)
		require.NotNil(t, job.New)
	}
}

func TestJob_Malformed(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":        `{`,
		"unknown variant": `{"SendPigeon":[1,2]}`,
		"retry not ints":  `{"RetryEmail":["a","b"]}`,
		"new not a pair":  `{"NewEmail":{}}`,
		"array top level": `[1,2]`,
	} {
		var job bus.Job
		assert.Error(t, json.Unmarshal([]byte(payload), &job), name)
	}
}

func TestEventMarshalling(t *testing.T) {
	subject := "Re: Hi"
	data, err := json.Marshal(bus.ReplyMessage{HubID: 1, Email: "a@x", Message: "", Subject: &subject})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hub_id":1,"email":"a@x","message":"","subject":"Re: Hi"}`, string(data))

	data, err = json.Marshal(bus.UnsubscribeMessage{HubID: 2, Email: "b@y"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hub_id":2,"email":"b@y","reason":null}`, string(data))
}
