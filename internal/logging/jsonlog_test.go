package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, LevelFor(0))
	assert.Equal(t, logrus.InfoLevel, LevelFor(1))
	assert.Equal(t, logrus.DebugLevel, LevelFor(5))
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	Setup(1, true, &buf)
	defer Setup(0, false, nil)

	For("jobs").Debug("hidden")
	For("jobs").WithField("user_id", 7).Info("processed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "processed", line["msg"])
	assert.Equal(t, "jobs", line["component"])
	assert.EqualValues(t, 7, line["user_id"])
}
