package mpt

// Update describes a single write into the trie, shaped directly on
// category/db/src/monad/mpt/update.hpp from the original engine: a key, an
// optional value (absence means erase), an incarnation flag, and a list of
// nested sub-trie updates (the C++ original threads these through an
// intrusive singly-linked list; a slice serves the same purpose here).
type Update struct {
	Key NibbleView

	// Value holds the leaf payload. A nil Value with no SubUpdates is an
	// erase; a nil Value with SubUpdates present means "descend only",
	// used when an account's storage changes but its account leaf does
	// not.
	Value []byte

	// SubUpdates are further updates applied after this one. Trie.Upsert
	// applies each at its own Key in the same trie; the parent's Key is
	// not prepended.
	SubUpdates []*Update

	// Incarnation, when true, deletes the leaf at Key before this update
	// is applied -- the case where an account is destroyed and recreated
	// within the same block. Only that one leaf is deleted; entries at
	// other keys, including those written through SubUpdates, are not
	// removed.
	Incarnation bool

	// Version tags the update with the block/transaction version it
	// originates from; the trie itself does not read it.
	Version int64
}

// IsDeletion reports whether this update erases the leaf at Key.
func (u *Update) IsDeletion() bool {
	return u.Value == nil && len(u.SubUpdates) == 0
}

// MakeUpdate constructs a leaf-write Update.
func MakeUpdate(key NibbleView, value []byte, version int64) *Update {
	return &Update{Key: key, Value: value, Version: version}
}

// MakeErase constructs an erase Update.
func MakeErase(key NibbleView, version int64) *Update {
	return &Update{Key: key, Version: version}
}
