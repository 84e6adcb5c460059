package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/git-habz/maas/pkg/bootresources"
)

// pgTx implements the catalog model inside one transaction.
type pgTx struct {
	tx  pgx.Tx
	ctx context.Context
}

// setCompleteCondition matches sets that have files and whose every file's
// blob is fully written. Used as a correlated condition on a sets row s.
const setCompleteCondition = `
	EXISTS (SELECT 1 FROM boot_resource_files f WHERE f.set_id = s.id)
	AND NOT EXISTS (
		SELECT 1 FROM boot_resource_files f
		JOIN large_files lf ON lf.id = f.largefile_id
		WHERE f.set_id = s.id AND lf.size <> lf.total_size
	)`

func scanResource(row pgx.Row) (*bootresources.Resource, error) {
	var r bootresources.Resource
	var rtype int
	err := row.Scan(&r.ID, &rtype, &r.Name, &r.Architecture, &r.Extra)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bootresources.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.RType = bootresources.ResourceType(rtype)
	if r.Extra == nil {
		r.Extra = map[string]string{}
	}
	return &r, nil
}

// ============================================================================
// Resources
// ============================================================================

func (t *pgTx) GetOrCreateResource(p bootresources.Product) (*bootresources.Resource, error) {
	name, architecture := p.Name(), p.Architecture()
	extra := p.ResourceExtra()

	resource, err := scanResource(t.tx.QueryRow(t.ctx, `
		SELECT id, rtype, name, architecture, extra
		FROM boot_resources
		WHERE name = $1 AND architecture = $2 AND rtype IN ($3, $4)`,
		name, architecture,
		int(bootresources.TypeSynced), int(bootresources.TypeGenerated)))
	if err != nil && !errors.Is(err, bootresources.ErrNotFound) {
		return nil, err
	}

	if err == nil {
		// A generated resource seen upstream is promoted to synced, keeping
		// its primary key. Extra is overwritten either way.
		_, err = t.tx.Exec(t.ctx, `
			UPDATE boot_resources SET rtype = $1, extra = $2 WHERE id = $3`,
			int(bootresources.TypeSynced), extra, resource.ID)
		if err != nil {
			return nil, err
		}
		resource.RType = bootresources.TypeSynced
		resource.Extra = extra
		return resource, nil
	}

	resource = &bootresources.Resource{
		RType:        bootresources.TypeSynced,
		Name:         name,
		Architecture: architecture,
		Extra:        extra,
	}
	err = t.tx.QueryRow(t.ctx, `
		INSERT INTO boot_resources (rtype, name, architecture, extra)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		int(resource.RType), name, architecture, extra,
	).Scan(&resource.ID)
	if err != nil {
		return nil, err
	}
	return resource, nil
}

func (t *pgTx) GetResource(rtypes []bootresources.ResourceType, name, architecture string) (*bootresources.Resource, error) {
	kinds := make([]int, len(rtypes))
	for i, rt := range rtypes {
		kinds[i] = int(rt)
	}
	return scanResource(t.tx.QueryRow(t.ctx, `
		SELECT id, rtype, name, architecture, extra
		FROM boot_resources
		WHERE name = $1 AND architecture = $2 AND rtype = ANY($3)
		ORDER BY id LIMIT 1`,
		name, architecture, kinds))
}

func (t *pgTx) queryResources(query string, args ...any) ([]*bootresources.Resource, error) {
	rows, err := t.tx.Query(t.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bootresources.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) AllResources() ([]*bootresources.Resource, error) {
	return t.queryResources(`
		SELECT id, rtype, name, architecture, extra
		FROM boot_resources ORDER BY id`)
}

func (t *pgTx) SyncedResources() ([]*bootresources.Resource, error) {
	return t.queryResources(`
		SELECT id, rtype, name, architecture, extra
		FROM boot_resources WHERE rtype = $1 ORDER BY id`,
		int(bootresources.TypeSynced))
}

func (t *pgTx) AnyResourcesExist() (bool, error) {
	var exists bool
	err := t.tx.QueryRow(t.ctx,
		"SELECT EXISTS (SELECT 1 FROM boot_resources)").Scan(&exists)
	return exists, err
}

func (t *pgTx) AnySetsExist() (bool, error) {
	var exists bool
	err := t.tx.QueryRow(t.ctx,
		"SELECT EXISTS (SELECT 1 FROM boot_resource_sets)").Scan(&exists)
	return exists, err
}

func (t *pgTx) CommissioningResources() ([]*bootresources.Resource, error) {
	return t.queryResources(`
		SELECT r.id, r.rtype, r.name, r.architecture, r.extra
		FROM boot_resources r
		WHERE r.rtype = $1 AND r.name LIKE 'ubuntu/%'
		AND EXISTS (
			SELECT 1 FROM boot_resource_sets s
			WHERE s.resource_id = r.id AND `+setCompleteCondition+`
		)
		ORDER BY r.name DESC, r.id`,
		int(bootresources.TypeSynced))
}

func (t *pgTx) DeleteResource(resourceID int64) error {
	largeFileIDs, err := t.collectLargeFileIDs(`
		SELECT DISTINCT f.largefile_id
		FROM boot_resource_files f
		JOIN boot_resource_sets s ON s.id = f.set_id
		WHERE s.resource_id = $1`, resourceID)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx,
		"DELETE FROM boot_resources WHERE id = $1", resourceID); err != nil {
		return err
	}
	return t.reclaimLargeFiles(largeFileIDs)
}

// ============================================================================
// Resource sets
// ============================================================================

func scanSet(row pgx.Row) (*bootresources.ResourceSet, error) {
	var s bootresources.ResourceSet
	err := row.Scan(&s.ID, &s.ResourceID, &s.Version, &s.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bootresources.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) GetOrCreateSet(resourceID int64, version, label string) (*bootresources.ResourceSet, error) {
	set, err := t.GetSetByVersion(resourceID, version)
	if err == nil {
		if set.Label != label {
			if _, err := t.tx.Exec(t.ctx,
				"UPDATE boot_resource_sets SET label = $1 WHERE id = $2",
				label, set.ID); err != nil {
				return nil, err
			}
			set.Label = label
		}
		return set, nil
	}
	if !errors.Is(err, bootresources.ErrNotFound) {
		return nil, err
	}

	set = &bootresources.ResourceSet{ResourceID: resourceID, Version: version, Label: label}
	err = t.tx.QueryRow(t.ctx, `
		INSERT INTO boot_resource_sets (resource_id, version, label)
		VALUES ($1, $2, $3) RETURNING id`,
		resourceID, version, label,
	).Scan(&set.ID)
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (t *pgTx) GetSetByVersion(resourceID int64, version string) (*bootresources.ResourceSet, error) {
	return scanSet(t.tx.QueryRow(t.ctx, `
		SELECT id, resource_id, version, label
		FROM boot_resource_sets
		WHERE resource_id = $1 AND version = $2`,
		resourceID, version))
}

func (t *pgTx) SetsForResource(resourceID int64) ([]*bootresources.ResourceSet, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT id, resource_id, version, label
		FROM boot_resource_sets
		WHERE resource_id = $1 ORDER BY id DESC`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bootresources.ResourceSet
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, rows.Err()
}

func (t *pgTx) LatestCompleteSet(resourceID int64) (*bootresources.ResourceSet, error) {
	return scanSet(t.tx.QueryRow(t.ctx, `
		SELECT s.id, s.resource_id, s.version, s.label
		FROM boot_resource_sets s
		WHERE s.resource_id = $1 AND `+setCompleteCondition+`
		ORDER BY s.id DESC LIMIT 1`, resourceID))
}

func (t *pgTx) SetComplete(setID int64) (bool, error) {
	var complete bool
	err := t.tx.QueryRow(t.ctx, `
		SELECT `+setCompleteCondition+`
		FROM boot_resource_sets s WHERE s.id = $1`, setID,
	).Scan(&complete)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, bootresources.ErrNotFound
	}
	return complete, err
}

func (t *pgTx) DeleteSet(setID int64) error {
	largeFileIDs, err := t.collectLargeFileIDs(`
		SELECT DISTINCT largefile_id FROM boot_resource_files WHERE set_id = $1`, setID)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx,
		"DELETE FROM boot_resource_sets WHERE id = $1", setID); err != nil {
		return err
	}
	return t.reclaimLargeFiles(largeFileIDs)
}

// ============================================================================
// Files
// ============================================================================

func scanFile(row pgx.Row) (*bootresources.File, error) {
	var f bootresources.File
	var filetype string
	err := row.Scan(&f.ID, &f.SetID, &f.Filename, &filetype, &f.Extra, &f.LargeFileID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bootresources.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Filetype = bootresources.Filetype(filetype)
	if f.Extra == nil {
		f.Extra = map[string]string{}
	}
	return &f, nil
}

func (t *pgTx) GetFile(fileID int64) (*bootresources.File, error) {
	return scanFile(t.tx.QueryRow(t.ctx, `
		SELECT id, set_id, filename, filetype, extra, largefile_id
		FROM boot_resource_files WHERE id = $1`, fileID))
}

func (t *pgTx) GetFileByName(setID int64, filename string) (*bootresources.File, error) {
	return scanFile(t.tx.QueryRow(t.ctx, `
		SELECT id, set_id, filename, filetype, extra, largefile_id
		FROM boot_resource_files
		WHERE set_id = $1 AND filename = $2`, setID, filename))
}

func (t *pgTx) FilesForSet(setID int64) ([]*bootresources.File, error) {
	rows, err := t.tx.Query(t.ctx, `
		SELECT id, set_id, filename, filetype, extra, largefile_id
		FROM boot_resource_files WHERE set_id = $1 ORDER BY id`, setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bootresources.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (t *pgTx) SaveFile(f *bootresources.File) error {
	if f.LargeFileID == 0 {
		return fmt.Errorf("file %q has no large file reference", f.Filename)
	}
	extra := f.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	if f.ID == 0 {
		return t.tx.QueryRow(t.ctx, `
			INSERT INTO boot_resource_files (set_id, filename, filetype, extra, largefile_id)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			f.SetID, f.Filename, string(f.Filetype), extra, f.LargeFileID,
		).Scan(&f.ID)
	}
	_, err := t.tx.Exec(t.ctx, `
		UPDATE boot_resource_files
		SET filetype = $1, extra = $2, largefile_id = $3
		WHERE id = $4`,
		string(f.Filetype), extra, f.LargeFileID, f.ID)
	return err
}

func (t *pgTx) DeleteFile(fileID int64) error {
	var largeFileID int64
	err := t.tx.QueryRow(t.ctx,
		"SELECT largefile_id FROM boot_resource_files WHERE id = $1", fileID,
	).Scan(&largeFileID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx,
		"DELETE FROM boot_resource_files WHERE id = $1", fileID); err != nil {
		return err
	}
	return t.DeleteLargeFileIfUnreferenced(largeFileID)
}

// ============================================================================
// Large files
// ============================================================================

func scanLargeFile(row pgx.Row) (*bootresources.LargeFile, error) {
	var lf bootresources.LargeFile
	err := row.Scan(&lf.ID, &lf.SHA256, &lf.TotalSize, &lf.Size)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, bootresources.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lf, nil
}

func (t *pgTx) GetLargeFile(id int64) (*bootresources.LargeFile, error) {
	return scanLargeFile(t.tx.QueryRow(t.ctx,
		"SELECT id, sha256, total_size, size FROM large_files WHERE id = $1", id))
}

func (t *pgTx) FindLargeFileBySHA256(sha256 string) (*bootresources.LargeFile, error) {
	return scanLargeFile(t.tx.QueryRow(t.ctx,
		"SELECT id, sha256, total_size, size FROM large_files WHERE sha256 = $1", sha256))
}

func (t *pgTx) CreateLargeFile(sha256 string, totalSize int64) (*bootresources.LargeFile, error) {
	var oid uint32
	if err := t.tx.QueryRow(t.ctx, "SELECT lo_create(0)").Scan(&oid); err != nil {
		return nil, fmt.Errorf("creating large object: %w", err)
	}
	lf := &bootresources.LargeFile{SHA256: sha256, TotalSize: totalSize}
	err := t.tx.QueryRow(t.ctx, `
		INSERT INTO large_files (sha256, total_size, size, content)
		VALUES ($1, $2, 0, $3) RETURNING id`,
		sha256, totalSize, oid,
	).Scan(&lf.ID)
	if err != nil {
		return nil, err
	}
	return lf, nil
}

func (t *pgTx) DeleteLargeFileIfUnreferenced(id int64) error {
	var referenced bool
	err := t.tx.QueryRow(t.ctx, `
		SELECT EXISTS (SELECT 1 FROM boot_resource_files WHERE largefile_id = $1)`, id,
	).Scan(&referenced)
	if err != nil {
		return err
	}
	if referenced {
		return nil
	}

	var oid uint32
	err = t.tx.QueryRow(t.ctx,
		"SELECT content FROM large_files WHERE id = $1", id).Scan(&oid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx, "SELECT lo_unlink($1)", oid); err != nil {
		return fmt.Errorf("unlinking large object %d: %w", oid, err)
	}
	_, err = t.tx.Exec(t.ctx, "DELETE FROM large_files WHERE id = $1", id)
	return err
}

// ============================================================================
// Helpers
// ============================================================================

func (t *pgTx) collectLargeFileIDs(query string, args ...any) ([]int64, error) {
	rows, err := t.tx.Query(t.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) reclaimLargeFiles(ids []int64) error {
	for _, id := range ids {
		if err := t.DeleteLargeFileIfUnreferenced(id); err != nil {
			return err
		}
	}
	return nil
}
