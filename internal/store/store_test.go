package store

import (
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecentTrafficSamplesOrderedChronologically(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i, requests := range []int{10, 20, 30} {
		if err := db.RecordTrafficSample(base.Add(time.Duration(i)*time.Hour), requests); err != nil {
			t.Fatalf("RecordTrafficSample: %v", err)
		}
	}
	got, err := db.RecentTrafficSamples(3)
	if err != nil {
		t.Fatalf("RecentTrafficSamples: %v", err)
	}
	want := []int{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestRecordTrafficSampleUpsertsWithinSameHour(t *testing.T) {
	db := openTestDB(t)
	hour := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	_ = db.RecordTrafficSample(hour, 5)
	_ = db.RecordTrafficSample(hour.Add(20*time.Minute), 8)

	got, err := db.RecentTrafficSamples(10)
	if err != nil {
		t.Fatalf("RecentTrafficSamples: %v", err)
	}
	if len(got) != 1 || got[0] != 8 {
		t.Fatalf("expected a single upserted sample of 8, got %v", got)
	}
}

func TestRecordAndRecentPathBandwidth(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i, bytes := range []uint64{100, 200, 150} {
		if err := db.RecordPathBandwidth("leaf1->leaf2", 0, base.Add(time.Duration(i)*time.Minute), bytes); err != nil {
			t.Fatalf("RecordPathBandwidth: %v", err)
		}
	}
	got, err := db.RecentPathBandwidth("leaf1->leaf2", 0, 3)
	if err != nil {
		t.Fatalf("RecentPathBandwidth: %v", err)
	}
	want := []uint64{100, 200, 150}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestPathBandwidthKeptSeparatePerRoute(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	_ = db.RecordPathBandwidth("leaf1->leaf2", 0, now, 100)
	_ = db.RecordPathBandwidth("leaf1->leaf3", 0, now, 999)

	got, err := db.RecentPathBandwidth("leaf1->leaf2", 0, 10)
	if err != nil {
		t.Fatalf("RecentPathBandwidth: %v", err)
	}
	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("expected only leaf1->leaf2 sample, got %v", got)
	}
}
