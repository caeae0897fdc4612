package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/serroba/smart-collab/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	logger := logging.Setup(logging.Options{Level: "debug", Format: "json", Output: &out})
	logging.New(logger, "autosave").WithField("document_id", "d1").Debug("saved")

	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	require.Equal(t, "autosave", line["component"])
	require.Equal(t, "d1", line["document_id"])
	require.Equal(t, "saved", line["msg"])
}

func TestSetup_UnknownLevelDefaultsToInfo(t *testing.T) {
	t.Parallel()

	logger := logging.Setup(logging.Options{Level: "loud"})

	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestOrDiscard(t *testing.T) {
	t.Parallel()

	require.NotNil(t, logging.OrDiscard(nil))

	entry := logging.Discard()
	require.Same(t, entry, logging.OrDiscard(entry))
}
