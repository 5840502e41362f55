// SPDX-License-Identifier: GPL-3.0-or-later

package refwatch

// MethodSpec describes how a method is instrumented.
type MethodSpec struct {
	// HasCompletion is true when the method takes a completion and
	// therefore gets instrumented. Other methods are passed through.
	HasCompletion bool

	// Write marks methods subject to slow-write tracking.
	Write bool

	// Read marks subscription methods; simulation replays them using
	// their single-shot variant.
	Read bool
}

// MethodTable maps method names to their [MethodSpec].
//
// Methods of the on-disconnect handle are prefixed with "onDisconnect.".
type MethodTable map[string]MethodSpec

// DefaultMethodTable returns the table used by [NewWatcher].
func DefaultMethodTable() MethodTable {
	plain := MethodSpec{HasCompletion: true}
	write := MethodSpec{HasCompletion: true, Write: true}
	read := MethodSpec{HasCompletion: true, Read: true}
	return MethodTable{
		"auth":                         plain,
		"authWithCustomToken":          plain,
		"authAnonymously":              plain,
		"authWithPassword":             plain,
		"authWithOAuthPopup":           plain,
		"authWithOAuthRedirect":        plain,
		"authWithOAuthToken":           plain,
		"createUser":                   plain,
		"changeEmail":                  plain,
		"changePassword":               plain,
		"removeUser":                   plain,
		"resetPassword":                plain,
		"set":                          write,
		"update":                       write,
		"setWithPriority":              write,
		"setPriority":                  write,
		"remove":                       write,
		"push":                         write,
		"transaction":                  write,
		"on":                           read,
		"once":                         read,
		"onDisconnect.set":             plain,
		"onDisconnect.setWithPriority": plain,
		"onDisconnect.update":          plain,
		"onDisconnect.remove":          plain,
		"onDisconnect.cancel":          plain,
	}
}

// QueryRefinements lists the positional query methods returning a refined
// query, for use with [Watcher.WrapObjectReturns]. It includes the legacy
// "limit" alongside its successors.
var QueryRefinements = []string{
	"orderByChild", "orderByKey", "orderByValue", "orderByPriority",
	"limit", "limitToFirst", "limitToLast", "startAt", "endAt", "equalTo",
}
