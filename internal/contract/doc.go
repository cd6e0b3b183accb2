// Package contract defines the replay-pack bundle: its file layout, the
// manifest and its bundle id, the sha256sums format, and the strict CUE
// schemas for the manifest (v1 and v2) and market_data_refs.json.
//
// A bundle is built once and never edited in place. Reports added later
// (compare, resolution) are covered by the sums file but kept out of the
// manifest contents, so adding them cannot change the bundle id.
package contract
