package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// setupTestStore creates a store over a temp directory, closed when the
// test completes.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	store, err := OpenStore(filepath.Join(tmpDir, "registry.db"), filepath.Join(tmpDir, "models"))
	require.NoError(t, err, "Failed to create test store")
	t.Cleanup(func() { store.Close() })
	return store
}

// writeArtifact creates an artifact directory with the given files, sized in
// bytes, and returns its path.
func writeArtifact(t *testing.T, files map[string]int) string {
	t.Helper()
	dir := t.TempDir()
	for name, size := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	}
	return dir
}

func registerTestModel(t *testing.T, store *Store, name, version string) int64 {
	t.Helper()
	src := writeArtifact(t, map[string]int{"model.onnx": 64})
	id, err := store.RegisterModel(RegisterParams{
		Name:       name,
		Version:    version,
		Backend:    "onnx",
		SourcePath: src,
	})
	require.NoError(t, err)
	return id
}

func TestStore_Initialize_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	id := registerTestModel(t, store, "bert", "1.0.0")

	// A second Initialize must not disturb existing data.
	require.NoError(t, store.Initialize())

	rec, err := store.GetModel("bert", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, id, rec.ID)
}

func TestStore_RegisterModel(t *testing.T) {
	store := setupTestStore(t)
	src := writeArtifact(t, map[string]int{
		"model.onnx":  4096,
		"config.json": 128,
	})

	id, err := store.RegisterModel(RegisterParams{
		Name:       "bert",
		Version:    "1.0.0",
		Backend:    "onnx",
		SourcePath: src,
		BaseModel:  "bert-base-uncased",
		Task:       "fill-mask",
		Metadata:   map[string]any{"quantized": true},
	})
	require.NoError(t, err)
	require.Greater(t, id, int64(0), "Register should assign an id")

	rec, err := store.GetModel("bert", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, id, rec.ID)
	require.Equal(t, "onnx", rec.Backend)
	require.Equal(t, "bert-base-uncased", rec.BaseModel)
	require.Equal(t, "fill-mask", rec.Task)
	require.Equal(t, true, rec.Metadata["quantized"])
	require.WithinDuration(t, time.Now(), rec.CreatedAt, 5*time.Second)

	// The catalog row must point inside managed storage, not at the source.
	expectedDir := filepath.Join(store.StorageRoot(), "bert", "1.0.0")
	require.Equal(t, expectedDir, rec.ModelPath)
	require.FileExists(t, filepath.Join(expectedDir, "model.onnx"))
	require.FileExists(t, filepath.Join(expectedDir, "config.json"))
}

func TestStore_RegisterModel_SingleFileArtifact(t *testing.T) {
	store := setupTestStore(t)
	dir := writeArtifact(t, map[string]int{"weights.bin": 1024})
	src := filepath.Join(dir, "weights.bin")

	_, err := store.RegisterModel(RegisterParams{
		Name:       "tiny",
		Version:    "0.1.0",
		Backend:    "openvino",
		SourcePath: src,
	})
	require.NoError(t, err)

	rec, err := store.GetModel("tiny", "0.1.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.FileExists(t, filepath.Join(rec.ModelPath, "weights.bin"))
	require.InDelta(t, 1024.0/(1024*1024), rec.SizeMB, 1e-9)
}

func TestStore_RegisterModel_SizeComputation(t *testing.T) {
	store := setupTestStore(t)
	src := writeArtifact(t, map[string]int{
		"model.onnx":          1048576,
		"weights/weights.bin": 2097152,
	})

	_, err := store.RegisterModel(RegisterParams{
		Name:       "sized",
		Version:    "1.0.0",
		Backend:    "onnx",
		SourcePath: src,
	})
	require.NoError(t, err)

	rec, err := store.GetModel("sized", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.InDelta(t, 3.0, rec.SizeMB, 1e-9)
}

func TestStore_RegisterModel_DuplicateVersionConflict(t *testing.T) {
	store := setupTestStore(t)
	first := registerTestModel(t, store, "bert", "1.0.0")

	src := writeArtifact(t, map[string]int{"other.onnx": 32})
	_, err := store.RegisterModel(RegisterParams{
		Name:       "bert",
		Version:    "1.0.0",
		Backend:    "openvino",
		SourcePath: src,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConflict)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "model", conflict.Resource)
	require.Equal(t, "bert:1.0.0", conflict.Key)

	// The original row is unaffected.
	rec, err := store.GetModel("bert", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, first, rec.ID)
	require.Equal(t, "onnx", rec.Backend)
}

func TestStore_RegisterModel_MissingSource(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.RegisterModel(RegisterParams{
		Name:       "ghost",
		Version:    "1.0.0",
		Backend:    "onnx",
		SourcePath: filepath.Join(t.TempDir(), "does-not-exist"),
	})
	require.Error(t, err)

	// Registration must abort before any database write.
	rec, err := store.GetModel("ghost", "1.0.0")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestStore_RegisterModel_RejectsPathTraversal(t *testing.T) {
	store := setupTestStore(t)
	src := writeArtifact(t, map[string]int{"m.bin": 8})

	for _, bad := range []string{"", "..", "a/b", `a\b`} {
		_, err := store.RegisterModel(RegisterParams{
			Name:       bad,
			Version:    "1.0.0",
			Backend:    "onnx",
			SourcePath: src,
		})
		require.Error(t, err, "name %q should be rejected", bad)
	}
}

func TestStore_GetModel_Latest(t *testing.T) {
	store := setupTestStore(t)

	registerTestModel(t, store, "m", "1.0.0")
	time.Sleep(10 * time.Millisecond)
	registerTestModel(t, store, "m", "1.1.0")

	rec, err := store.GetModel("m", "latest")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "1.1.0", rec.Version, "latest resolves by created_at, newest wins")

	// Exact version lookups still reach older rows.
	rec, err = store.GetModel("m", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "1.0.0", rec.Version)
}

func TestStore_GetModel_NotFound(t *testing.T) {
	store := setupTestStore(t)

	rec, err := store.GetModel("missing", "1.0.0")
	require.NoError(t, err, "not-found is an absent value, not an error")
	require.Nil(t, rec)

	rec, err = store.GetModel("missing", "latest")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestStore_GetModelByID(t *testing.T) {
	store := setupTestStore(t)
	id := registerTestModel(t, store, "bert", "1.0.0")

	rec, err := store.GetModelByID(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "bert", rec.Name)
	require.Equal(t, "1.0.0", rec.Version)

	rec, err = store.GetModelByID(id + 1000)
	require.NoError(t, err, "not-found is an absent value, not an error")
	require.Nil(t, rec)
}

func TestStore_ListModels(t *testing.T) {
	store := setupTestStore(t)

	registerTestModel(t, store, "a", "1.0.0")
	time.Sleep(10 * time.Millisecond)
	registerTestModel(t, store, "b", "1.0.0")
	time.Sleep(10 * time.Millisecond)
	registerTestModel(t, store, "a", "2.0.0")

	all, err := store.ListModels("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		require.False(t, all[i-1].CreatedAt.Before(all[i].CreatedAt),
			"list must be non-increasing by created_at")
	}

	onlyA, err := store.ListModels("a")
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	require.Equal(t, "2.0.0", onlyA[0].Version)
	require.Equal(t, "1.0.0", onlyA[1].Version)

	none, err := store.ListModels("zzz")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStore_DeleteModel_Version(t *testing.T) {
	store := setupTestStore(t)
	registerTestModel(t, store, "m", "1.0.0")

	rec, err := store.GetModel("m", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	artifactDir := rec.ModelPath

	require.NoError(t, store.DeleteModel("m", "1.0.0"))

	rec, err = store.GetModel("m", "1.0.0")
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NoDirExists(t, artifactDir)
}

func TestStore_DeleteModel_MissingIsNoOp(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.DeleteModel("missing", "1.0.0"))
	require.NoError(t, store.DeleteModel("missing", ""))
}

func TestStore_DeleteModel_MissingArtifactTolerated(t *testing.T) {
	store := setupTestStore(t)
	registerTestModel(t, store, "m", "1.0.0")

	rec, err := store.GetModel("m", "1.0.0")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(rec.ModelPath))

	// Row removal still proceeds when the directory is already gone.
	require.NoError(t, store.DeleteModel("m", "1.0.0"))
	rec, err = store.GetModel("m", "1.0.0")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestStore_DeleteModel_AllVersions(t *testing.T) {
	store := setupTestStore(t)
	registerTestModel(t, store, "m", "1.0.0")
	registerTestModel(t, store, "m", "2.0.0")
	registerTestModel(t, store, "other", "1.0.0")

	require.NoError(t, store.DeleteModel("m", ""))

	remaining, err := store.ListModels("m")
	require.NoError(t, err)
	require.Empty(t, remaining)
	require.NoDirExists(t, filepath.Join(store.StorageRoot(), "m"))

	// Unrelated models survive.
	rec, err := store.GetModel("other", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestStore_DeleteModel_ReferencedByTest(t *testing.T) {
	store := setupTestStore(t)
	aID := registerTestModel(t, store, "m", "1.0.0")
	bID := registerTestModel(t, store, "m", "2.0.0")
	_, err := store.CreateABTest("m-compare", aID, bID)
	require.NoError(t, err)

	err = store.DeleteModel("m", "1.0.0")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrReferentialIntegrity)

	// Nothing was removed.
	rec, err := store.GetModel("m", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.DirExists(t, rec.ModelPath)
}

func TestStore_ReRegisterAfterDelete(t *testing.T) {
	store := setupTestStore(t)
	registerTestModel(t, store, "m", "1.0.0")
	require.NoError(t, store.DeleteModel("m", "1.0.0"))

	// The pair is free again after deletion.
	id := registerTestModel(t, store, "m", "1.0.0")
	require.Greater(t, id, int64(0))
}

func TestStore_ABTest_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	aID := registerTestModel(t, store, "bert", "1.0.0")
	bID := registerTestModel(t, store, "bert-q8", "1.0.0")

	testID, err := store.CreateABTest("quant-compare", aID, bID)
	require.NoError(t, err)
	require.Greater(t, testID, int64(0))

	view, err := store.GetABTest("quant-compare")
	require.NoError(t, err)
	require.NotNil(t, view)
	require.Equal(t, testID, view.ID)
	require.Equal(t, "active", view.Status)
	require.Equal(t, aID, view.ModelAID)
	require.Equal(t, bID, view.ModelBID)
	require.Equal(t, "bert", view.ModelAName)
	require.Equal(t, "1.0.0", view.ModelAVersion)
	require.Equal(t, "bert-q8", view.ModelBName)
	require.Equal(t, "1.0.0", view.ModelBVersion)

	require.NoError(t, store.RecordABResult(testID, aID, "latency", 0.01))
	require.NoError(t, store.RecordABResult(testID, bID, "latency", 0.008))

	results, err := store.GetABResults(testID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	found := false
	for _, r := range results {
		if r.ModelID == aID {
			found = true
			require.Equal(t, "latency", r.MetricName)
			require.Equal(t, 0.01, r.MetricValue)
			require.Equal(t, "bert", r.ModelName)
		}
	}
	require.True(t, found, "result for arm A should be present")
}

func TestStore_ABResults_AppendOnly(t *testing.T) {
	store := setupTestStore(t)
	aID := registerTestModel(t, store, "m", "1.0.0")
	bID := registerTestModel(t, store, "m", "2.0.0")
	testID, err := store.CreateABTest("t", aID, bID)
	require.NoError(t, err)

	// Repeated observations of the same metric are all retained.
	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordABResult(testID, aID, "latency", float64(i)))
	}
	results, err := store.GetABResults(testID)
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestStore_CreateABTest_DuplicateName(t *testing.T) {
	store := setupTestStore(t)
	aID := registerTestModel(t, store, "m", "1.0.0")
	bID := registerTestModel(t, store, "m", "2.0.0")

	_, err := store.CreateABTest("t", aID, bID)
	require.NoError(t, err)

	_, err = store.CreateABTest("t", bID, aID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestStore_CreateABTest_UnknownModels(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.CreateABTest("t", 41, 42)
	require.ErrorIs(t, err, ErrReferentialIntegrity)
}

func TestStore_RecordABResult_UnknownIDs(t *testing.T) {
	store := setupTestStore(t)

	err := store.RecordABResult(99, 100, "latency", 1.0)
	require.ErrorIs(t, err, ErrReferentialIntegrity)
}

func TestStore_GetABTest_NotFound(t *testing.T) {
	store := setupTestStore(t)

	view, err := store.GetABTest("missing")
	require.NoError(t, err)
	require.Nil(t, view)
}

func TestStore_ListABTests(t *testing.T) {
	store := setupTestStore(t)
	aID := registerTestModel(t, store, "m", "1.0.0")
	bID := registerTestModel(t, store, "m", "2.0.0")

	_, err := store.CreateABTest("first", aID, bID)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = store.CreateABTest("second", aID, bID)
	require.NoError(t, err)

	tests, err := store.ListABTests()
	require.NoError(t, err)
	require.Len(t, tests, 2)
	require.Equal(t, "second", tests[0].Name, "newest first")
	require.Equal(t, "first", tests[1].Name)
}

func TestStore_ConcurrentRegister_SameVersion(t *testing.T) {
	store := setupTestStore(t)
	srcA := writeArtifact(t, map[string]int{"a.onnx": 128})
	srcB := writeArtifact(t, map[string]int{"b.onnx": 128})

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, src := range []string{srcA, srcB} {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			_, errs[i] = store.RegisterModel(RegisterParams{
				Name:       "race",
				Version:    "1.0.0",
				Backend:    "onnx",
				SourcePath: src,
			})
		}(i, src)
	}
	wg.Wait()

	// Exactly one wins; the loser observes a Conflict.
	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, ErrConflict)
		}
	}
	require.Equal(t, 1, winners)

	records, err := store.ListModels("race")
	require.NoError(t, err)
	require.Len(t, records, 1, "no duplicate row may be visible")
}

func TestStore_ListModels_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tmpDir, err := os.MkdirTemp("", "registry-rapid-*")
		if err != nil {
			t.Fatalf("tempdir: %v", err)
		}
		defer os.RemoveAll(tmpDir)

		store, err := OpenStore(filepath.Join(tmpDir, "registry.db"), filepath.Join(tmpDir, "models"))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		defer store.Close()

		src := filepath.Join(tmpDir, "artifact")
		if err := os.MkdirAll(src, 0o755); err != nil {
			t.Fatalf("artifact dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(src, "m.bin"), []byte("x"), 0o644); err != nil {
			t.Fatalf("artifact file: %v", err)
		}

		n := rapid.IntRange(1, 8).Draw(t, "n")
		names := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,6}`), n, n).Draw(t, "names")
		for i, name := range names {
			_, err := store.RegisterModel(RegisterParams{
				Name:       name,
				Version:    fmt.Sprintf("0.0.%d", i),
				Backend:    "onnx",
				SourcePath: src,
			})
			if err != nil {
				t.Fatalf("register %s: %v", name, err)
			}
		}

		records, err := store.ListModels("")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(records) != n {
			t.Fatalf("expected %d records, got %d", n, len(records))
		}
		for i := 1; i < len(records); i++ {
			if records[i-1].CreatedAt.Before(records[i].CreatedAt) {
				t.Fatalf("ordering violated at %d: %v before %v",
					i, records[i-1].CreatedAt, records[i].CreatedAt)
			}
		}
	})
}
