package store

import (
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/matheus3301/feedmirror/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func conv(id string, ts int64, pinned bool, badge int) *model.Conversation {
	return &model.Conversation{
		ID:           id,
		Name:         "chat " + id,
		Pinned:       pinned,
		Badge:        badge,
		Participants: []string{"me", id},
		LastMessage:  &model.LastMessage{ID: "m-" + id, Text: "hi", Kind: model.KindText, Timestamp: ts, SenderID: id},
	}
}

func mustUpsert(t *testing.T, db *DB, c *model.Conversation) Change {
	t.Helper()
	ch, err := db.UpsertConversation(c)
	if err != nil {
		t.Fatal(err)
	}
	return ch
}

func ids(items []model.Conversation) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.ID
	}
	return out
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestRebuildWipesRecords(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, conv("a", 1, false, 0))

	if _, err := db.Rebuild(); err != nil {
		t.Fatal(err)
	}
	all, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("got %d records after rebuild, want 0", len(all))
	}
}

func TestUpsertReportsChange(t *testing.T) {
	db := testDB(t)
	c := conv("a", 100, false, 2)

	if got := mustUpsert(t, db, c); got != Inserted {
		t.Errorf("first upsert = %s, want inserted", got)
	}
	if got := mustUpsert(t, db, c); got != Unchanged {
		t.Errorf("replayed upsert = %s, want unchanged", got)
	}
	c.Badge = 3
	if got := mustUpsert(t, db, c); got != Updated {
		t.Errorf("changed upsert = %s, want updated", got)
	}

	all, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d records, want 1", len(all))
	}
	got := all[0]
	if got.Badge != 3 || got.LastMessage == nil || got.LastMessage.Timestamp != 100 {
		t.Errorf("record = %+v", got)
	}
	if !slices.Equal(got.Participants, []string{"me", "a"}) {
		t.Errorf("participants = %v", got.Participants)
	}
}

func TestUpsertKeepsLocalTyping(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, conv("a", 1, false, 0))
	if _, err := db.SetTyping("a", true); err != nil {
		t.Fatal(err)
	}
	c := conv("a", 2, false, 0)
	mustUpsert(t, db, c)

	got, err := db.GetConversation("a")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsTyping {
		t.Error("remote upsert cleared the local typing flag")
	}
}

func TestGetConversationMissing(t *testing.T) {
	db := testDB(t)
	c, err := db.GetConversation("nope")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("got %+v, want nil", c)
	}
	if removed, err := db.DeleteConversation("nope"); err != nil || removed {
		t.Errorf("delete missing = %v, %v", removed, err)
	}
}

func TestNoLastMessageRoundTrip(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, &model.Conversation{ID: "empty"})
	got, err := db.GetConversation("empty")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastMessage != nil {
		t.Errorf("last message = %+v, want nil", got.LastMessage)
	}
	if got.Preview() != model.PreviewEmpty {
		t.Errorf("preview = %q", got.Preview())
	}
}

func TestBadgeTotalIgnoresMute(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, conv("a", 1, false, 2))
	muted := conv("b", 2, true, 5)
	muted.Muted = true
	mustUpsert(t, db, muted)

	total, err := db.BadgeTotal()
	if err != nil {
		t.Fatal(err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}

	for _, id := range []string{"a", "b"} {
		if _, err := db.ClearBadge(id); err != nil {
			t.Fatal(err)
		}
	}
	if total, _ = db.BadgeTotal(); total != 0 {
		t.Errorf("total after clear = %d, want 0", total)
	}
}

func TestPinnedUnpinnedPartition(t *testing.T) {
	db := testDB(t)
	pinned, err := db.View(Pinned, ByLastActivity)
	if err != nil {
		t.Fatal(err)
	}
	unpinned, err := db.View(Unpinned, ByLastActivity)
	if err != nil {
		t.Fatal(err)
	}

	check := func(step string) {
		t.Helper()
		all, err := db.ConversationIDs()
		if err != nil {
			t.Fatal(err)
		}
		seen := map[string]int{}
		for _, id := range append(ids(pinned.Items()), ids(unpinned.Items())...) {
			seen[id]++
		}
		if len(seen) != len(all) {
			t.Fatalf("%s: views hold %d ids, store holds %d", step, len(seen), len(all))
		}
		for _, id := range all {
			if seen[id] != 1 {
				t.Fatalf("%s: id %s appears %d times", step, id, seen[id])
			}
		}
	}

	for i := range 6 {
		mustUpsert(t, db, conv(fmt.Sprintf("c%d", i), int64(i*10), i%2 == 0, i))
		check(fmt.Sprintf("insert %d", i))
	}
	if _, err := db.SetPinned("c1", true); err != nil {
		t.Fatal(err)
	}
	check("pin")
	if _, err := db.DeleteConversation("c4"); err != nil {
		t.Fatal(err)
	}
	check("delete")
	if err := db.DeleteAllConversations(); err != nil {
		t.Fatal(err)
	}
	check("wipe")
}

func TestViewOrderNewestFirst(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, conv("old", 10, false, 0))
	mustUpsert(t, db, conv("new", 30, false, 0))
	mustUpsert(t, db, conv("mid", 20, false, 0))

	v, err := db.View(Unpinned, ByLastActivity)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	if got := ids(v.Items()); !slices.Equal(got, []string{"new", "mid", "old"}) {
		t.Errorf("order = %v", got)
	}
}

func collect(t *testing.T, v *LiveView) (*[]ViewUpdate, func()) {
	t.Helper()
	var got []ViewUpdate
	cancel := v.Observe(func(u ViewUpdate) { got = append(got, u) })
	return &got, cancel
}

func TestObserveDeliversInitialThenDiffs(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, conv("a", 10, false, 0))

	v, err := db.View(Unpinned, ByLastActivity)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	got, cancel := collect(t, v)

	if len(*got) != 1 || !(*got)[0].Initial || len((*got)[0].Items) != 1 {
		t.Fatalf("initial = %+v", *got)
	}

	mustUpsert(t, db, conv("b", 20, false, 0))
	last := (*got)[len(*got)-1]
	if !slices.Equal(last.Diff.Inserted, []int{0}) || len(last.Diff.Deleted) != 0 {
		t.Errorf("insert diff = %+v", last.Diff)
	}

	cancel()
	cancel()
	n := len(*got)
	mustUpsert(t, db, conv("c", 30, false, 0))
	if len(*got) != n {
		t.Error("observer called after cancel")
	}
}

func TestReplayedUpsertEmitsNoDiff(t *testing.T) {
	db := testDB(t)
	v, err := db.View(Unpinned, ByLastActivity)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	got, _ := collect(t, v)

	c := conv("a", 10, false, 1)
	mustUpsert(t, db, c)
	mustUpsert(t, db, c)
	if len(*got) != 2 {
		t.Fatalf("got %d updates, want initial + one insert", len(*got))
	}

	c.Badge = 4
	mustUpsert(t, db, c)
	last := (*got)[len(*got)-1]
	if len(last.Diff.Inserted) != 0 || len(last.Diff.Deleted) != 0 || !slices.Equal(last.Diff.Modified, []int{0}) {
		t.Errorf("in-place change diff = %+v, want modify only", last.Diff)
	}
}

func TestPinMovesBetweenViews(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, conv("a", 10, false, 3))
	mustUpsert(t, db, conv("b", 20, false, 0))

	pinned, _ := db.View(Pinned, ByLastActivity)
	unpinned, _ := db.View(Unpinned, ByLastActivity)
	pinnedUpdates, _ := collect(t, pinned)
	unpinnedUpdates, _ := collect(t, unpinned)

	if _, err := db.SetPinned("a", true); err != nil {
		t.Fatal(err)
	}

	pu := (*pinnedUpdates)[len(*pinnedUpdates)-1]
	if !slices.Equal(pu.Diff.Inserted, []int{0}) || pu.Items[0].ID != "a" || pu.Items[0].Badge != 3 {
		t.Errorf("pinned update = %+v", pu)
	}
	uu := (*unpinnedUpdates)[len(*unpinnedUpdates)-1]
	if !slices.Equal(uu.Diff.Deleted, []int{1}) || !slices.Equal(ids(uu.Items), []string{"b"}) {
		t.Errorf("unpinned update = %+v", uu)
	}
}

func TestDiffReportsMoves(t *testing.T) {
	db := testDB(t)
	mustUpsert(t, db, conv("a", 30, false, 0))
	mustUpsert(t, db, conv("b", 20, false, 0))
	mustUpsert(t, db, conv("c", 10, false, 0))

	v, _ := db.View(Unpinned, ByLastActivity)
	got, _ := collect(t, v)

	// c gets a new message and jumps to the top.
	mustUpsert(t, db, conv("c", 40, false, 0))
	last := (*got)[len(*got)-1]
	if !slices.Equal(last.Diff.Deleted, []int{2}) || !slices.Equal(last.Diff.Inserted, []int{0}) {
		t.Errorf("move diff = %+v", last.Diff)
	}
	if !slices.Equal(ids(last.Items), []string{"c", "a", "b"}) {
		t.Errorf("items = %v", ids(last.Items))
	}
}

func TestDiffRecords(t *testing.T) {
	rec := func(id string, rev int64) record {
		return record{Conversation: &model.Conversation{ID: id}, rev: rev}
	}
	tests := []struct {
		name       string
		prev, next []record
		want       Diff
	}{
		{"empty", nil, nil, Diff{}},
		{"insert", nil, []record{rec("a", 1)}, Diff{Inserted: []int{0}}},
		{"delete", []record{rec("a", 1), rec("b", 1)}, []record{rec("b", 1)}, Diff{Deleted: []int{0}}},
		{"modify", []record{rec("a", 1), rec("b", 1)}, []record{rec("a", 1), rec("b", 2)}, Diff{Modified: []int{1}}},
		{
			"swap",
			[]record{rec("a", 1), rec("b", 1)},
			[]record{rec("b", 1), rec("a", 1)},
			Diff{Deleted: []int{0}, Inserted: []int{1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffRecords(tt.prev, tt.next)
			if !slices.Equal(got.Deleted, tt.want.Deleted) || !slices.Equal(got.Inserted, tt.want.Inserted) || !slices.Equal(got.Modified, tt.want.Modified) {
				t.Errorf("diff = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPendingWrites(t *testing.T) {
	db := testDB(t)

	if err := db.QueueWrite("w1", "user-conversations/me/a/pinned", "true"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueWrite("w2", "user-conversations/me/b", "null"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingWrites(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ClientID != "w1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := db.MarkWriteSending("w1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkWriteSent("w1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkWriteSending("w2"); err != nil {
		t.Fatal(err)
	}
	if n, err := db.RecoverSending(); err != nil || n != 1 {
		t.Fatalf("recovered %d, %v", n, err)
	}

	pending, err = db.PendingWrites(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientID != "w2" || pending[0].Attempts != 1 {
		t.Errorf("pending after recovery = %+v", pending)
	}
}
