package keys

import "strconv"

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
// Every key of a namespace shares the {ns} hash tag so scripts stay cluster-safe.

// Task returns the HASH key holding one task record.
func Task(ns string, id uint32) string {
	return "transferq:{" + ns + "}:task:" + strconv.FormatUint(uint64(id), 10)
}

// Index returns the ZSET of every task id scored by creation time in ms.
func Index(ns string) string { return "transferq:{" + ns + "}:index" }

// UID returns the per-owner ZSET of task ids scored by creation time in ms.
func UID(ns string, uid uint64) string {
	return "transferq:{" + ns + "}:uid:" + strconv.FormatUint(uid, 10)
}

// UIDs returns the SET of owners that have at least one task.
func UIDs(ns string) string { return "transferq:{" + ns + "}:uids" }

// Active returns the SET of task ids in a quota-occupying state.
func Active(ns string) string { return "transferq:{" + ns + "}:active" }

// Seq returns the STRING holding the highest priority handed out so far.
func Seq(ns string) string { return "transferq:{" + ns + "}:seq" }

// Terminal returns the ZSET of finished task ids scored by their last modification in ms.
func Terminal(ns string) string { return "transferq:{" + ns + "}:terminal" }

// Notify returns the pub/sub channel carrying notifications for one owner.
func Notify(prefix string, uid uint64) string {
	return prefix + ":notify:" + strconv.FormatUint(uid, 10)
}

// Namespace holds the precomputed fixed keys of a namespace.
type Namespace struct {
	Name     string
	Index    string
	UIDs     string
	Active   string
	Terminal string
	Seq      string
	prefix   string
}

// For returns the precomputed keys of namespace ns.
func For(ns string) Namespace {
	prefix := "transferq:{" + ns + "}:"
	return Namespace{
		Name:     ns,
		Index:    prefix + "index",
		UIDs:     prefix + "uids",
		Active:   prefix + "active",
		Terminal: prefix + "terminal",
		Seq:      prefix + "seq",
		prefix:   prefix,
	}
}

// Task returns the record key of id inside the namespace.
func (n Namespace) Task(id uint32) string {
	return n.prefix + "task:" + strconv.FormatUint(uint64(id), 10)
}

// UID returns the owner index key of uid inside the namespace.
func (n Namespace) UID(uid uint64) string {
	return n.prefix + "uid:" + strconv.FormatUint(uid, 10)
}
