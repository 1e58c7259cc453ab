package mpt

import "github.com/monadexec/execore/types"

// ReachableHashes walks the disk-node graph rooted at root and returns the
// set of every node hash reachable from it, without reconstructing the
// in-memory node shapes Get/Put use -- the compactor only needs identity,
// not values, to decide what a retention window keeps alive.
func ReachableHashes(root types.Hash, db *Database) (map[types.Hash]struct{}, error) {
	live := make(map[types.Hash]struct{})
	if root == (types.Hash{}) || root == emptyRoot {
		return live, nil
	}
	if err := walkReachable(root, db, live); err != nil {
		return nil, err
	}
	return live, nil
}

func walkReachable(hash types.Hash, db *Database, live map[types.Hash]struct{}) error {
	if _, seen := live[hash]; seen {
		return nil
	}
	live[hash] = struct{}{}

	dn, err := db.ReadNode(hash)
	if err != nil {
		return err
	}
	return walkChildren(dn, db, live)
}

func walkChildren(dn *DiskNode, db *Database, live map[types.Hash]struct{}) error {
	if dn.IsShort {
		if !dn.HasChild {
			return nil
		}
		return walkChildRef(dn.Children[0], db, live)
	}
	for i := 0; i < 16; i++ {
		if dn.ChildMask&(1<<uint(i)) == 0 {
			continue
		}
		if err := walkChildRef(dn.Children[i], db, live); err != nil {
			return err
		}
	}
	return nil
}

func walkChildRef(ref ChildRef, db *Database, live map[types.Hash]struct{}) error {
	child, err := db.ReadNodeByRef(ref)
	if err != nil {
		return err
	}
	if _, seen := live[child.Hash]; seen {
		return nil
	}
	live[child.Hash] = struct{}{}
	return walkChildren(child, db, live)
}
