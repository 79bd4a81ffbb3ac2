// Package registry tracks which subscriber handles belong to which groups.
//
// Groups are created on first join and removed when their last member leaves.
// Each group has its own lock, and a reverse index from handle to groups lets
// DropHandle run in time proportional to the handle's membership count.
package registry
