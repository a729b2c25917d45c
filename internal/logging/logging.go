package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const logMaxSizeBytes = 10 << 20

// New builds the process logger: human-readable console output plus,
// when logFile is set, JSON lines into a size-rotated file. The
// returned closer flushes and releases the file writer.
func New(logFile string) (zerolog.Logger, func(), error) {
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	writers := []io.Writer{console}
	closer := func() {}

	if logFile != "" {
		fileWriter, err := NewRotatingFileWriter(logFile, logMaxSizeBytes)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writers = append(writers, fileWriter)
		closer = func() { _ = fileWriter.Close() }
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return logger, closer, nil
}
