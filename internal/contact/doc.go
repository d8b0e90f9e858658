// Package contact turns successive input snapshots into per-channel
// transition messages.
//
// A snapshot is the concatenated pin state of every expander device, one
// byte per eight pins. Channels are numbered from 1 in byte order, least
// significant bit first:
//
//	byte 0: bit0 → CONTACT1 ... bit7 → CONTACT8
//	byte 1: bit0 → CONTACT9 ... bit7 → CONTACT16
//
// The Poller reads a snapshot every interval, diffs it against the
// previous one and publishes each changed channel:
//
//	stat/<base>/CONTACT<n>  "OPEN" | "CLOSED"  (not retained)
//
// The first snapshot after start only establishes the baseline. Contacts
// that are already open at startup are therefore not announced until they
// change.
package contact
