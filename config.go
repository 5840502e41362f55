// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

import "time"

// Timer is a pending timer started by [Config.AfterFunc].
//
// The [*time.Timer] type satisfies this interface.
type Timer interface {
	Stop() bool
}

// Config holds common configuration for a [*Watcher].
//
// Pass this to [NewWatcher] to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// AfterFunc starts a timer invoking f after d.
	//
	// Set by [NewConfig] to a wrapper around [time.AfterFunc].
	AfterFunc func(d time.Duration, f func()) Timer

	// ErrClassifier classifies errors for structured logging and
	// for detecting permission-denied failures.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		AfterFunc:     defaultAfterFunc,
		ErrClassifier: DefaultErrClassifier,
		TimeNow:       time.Now,
	}
}

func defaultAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
