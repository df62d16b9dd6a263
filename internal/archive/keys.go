package archive

// Cache keys for derived artifacts are namespaced by kind over a
// content-derived identity, so eviction on orphaning never guesses.

// MediaCacheKey keys the downloaded/captured primary media for an item.
func MediaCacheKey(id string) string { return "media:" + id }

// FrozenCacheKey keys the frozen HTML snapshot for an item.
func FrozenCacheKey(id string) string { return "frozen:" + id }

// ThumbCacheKey keys the derived thumbnail for an item.
func ThumbCacheKey(id string) string { return "thumb:" + id }

// EmbedCacheKey keys an embedding vector. Vectors are keyed by the hash
// of the image bytes rather than the item id, so renames stay hits and
// identical images share one entry.
func EmbedCacheKey(contentHash string) string { return "embed:" + contentHash }
