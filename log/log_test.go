/*
 * Copyright (c) 2019 The gobble developers.
 * See the LICENSE file for more information.
 */

package log

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testLogWriter struct {
	C chan string
}

func newTestLogWriter() *testLogWriter {
	return &testLogWriter{C: make(chan string, 16)}
}

func (tw *testLogWriter) Write(p []byte) (int, error) {
	tw.C <- string(p)
	return len(p), nil
}

func TestLoggerLevels(t *testing.T) {
	w := newTestLogWriter()
	l, err := newLogger(&Config{Level: DebugLevel}, w)
	require.Nil(t, err)
	setupTestLogger(l)
	defer shutdownTestLogger()

	Debugf("test debug log!")
	require.True(t, strings.Contains(readLine(t, w), "[DBG]"))

	Infof("test info log!")
	require.True(t, strings.Contains(readLine(t, w), "[INF]"))

	Warnf("test warning log!")
	require.True(t, strings.Contains(readLine(t, w), "[WRN]"))

	Errorf("test error log!")
	require.True(t, strings.Contains(readLine(t, w), "[ERR]"))

	Error(errors.New("some error string"))
	require.True(t, strings.Contains(readLine(t, w), "some error string"))

	exited := false
	exitHandler = func() { exited = true }
	Fatalf("test fatal log!")
	require.True(t, strings.Contains(readLine(t, w), "[FTL]"))
	require.True(t, exited)
}

func TestLoggerLevelFiltering(t *testing.T) {
	w := newTestLogWriter()
	l, err := newLogger(&Config{Level: ErrorLevel}, w)
	require.Nil(t, err)
	setupTestLogger(l)
	defer shutdownTestLogger()

	Debugf("this line should be dropped")
	Errorf("this one should not")
	require.True(t, strings.Contains(readLine(t, w), "[ERR]"))
}

func readLine(t *testing.T, w *testLogWriter) string {
	select {
	case ln := <-w.C:
		return ln
	case <-time.After(time.Second):
		t.Fatal("log line timeout")
		return ""
	}
}

func setupTestLogger(l *Logger) {
	instMu.Lock()
	inst = l
	instMu.Unlock()
	initialized = 1
}

func shutdownTestLogger() {
	Shutdown()
}
