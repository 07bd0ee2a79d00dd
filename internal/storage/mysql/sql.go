package mysql

const insertMissSQL = `
INSERT INTO source_misses (category, page, status, reason)
VALUES (?, ?, ?, ?)
`

// newest first; matches idx_source_misses_seen
const listMissesSQL = `
SELECT category, page, status, reason, seen_at
FROM source_misses
ORDER BY seen_at DESC, id DESC
LIMIT ?
`

const pruneMissesSQL = `
DELETE FROM source_misses
WHERE seen_at < ?
`
