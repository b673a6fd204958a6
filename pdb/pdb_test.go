package pdb

import (
	"bytes"
	"testing"
	"time"
)

func TestRecordDBRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	f := File{
		Header: Header{
			Name:       "MemoDB",
			Attributes: 0,
			Version:    1,
			CreateDate: now,
			ModDate:    now,
			Type:       0x44415441, // "DATA"
			Creator:    0x6D656D6F, // "memo"
		},
		AppInfo: []byte("appinfo-bytes"),
		Records: []Record{
			{ID: 1, Attributes: 0, Category: 0, Data: []byte("first record")},
			{ID: 2, Attributes: RecAttrDirty, Category: 1, Data: []byte("second record, longer")},
			{ID: 0xABCDEF, Attributes: RecAttrSecret, Category: 2, Data: []byte("")},
		},
	}

	enc, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Header.Name != "MemoDB" {
		t.Errorf("Name = %q", got.Header.Name)
	}
	if got.Header.Type != f.Header.Type || got.Header.Creator != f.Header.Creator {
		t.Errorf("Type/Creator mismatch: %#x/%#x", got.Header.Type, got.Header.Creator)
	}
	if !got.Header.CreateDate.Equal(now) {
		t.Errorf("CreateDate = %v, want %v", got.Header.CreateDate, now)
	}
	if !bytes.Equal(got.AppInfo, f.AppInfo) {
		t.Errorf("AppInfo = %q, want %q", got.AppInfo, f.AppInfo)
	}
	if len(got.Records) != len(f.Records) {
		t.Fatalf("Records len = %d, want %d", len(got.Records), len(f.Records))
	}
	for i, r := range f.Records {
		if got.Records[i].ID != r.ID {
			t.Errorf("record %d ID = %#x, want %#x", i, got.Records[i].ID, r.ID)
		}
		if got.Records[i].Attributes != r.Attributes {
			t.Errorf("record %d Attributes = %#x, want %#x", i, got.Records[i].Attributes, r.Attributes)
		}
		if !bytes.Equal(got.Records[i].Data, r.Data) {
			t.Errorf("record %d Data = %q, want %q", i, got.Records[i].Data, r.Data)
		}
	}
}

func TestResourceDBRoundTrip(t *testing.T) {
	f := File{
		Header: Header{
			Name:       "MemoPad",
			Attributes: AttrResDB,
			Type:       0x61707074, // "appt"
			Creator:    0x6D656D6F,
		},
		Resources: []Resource{
			{Type: 0x54424D54, ID: 1000, Data: []byte("tbmt data one")},
			{Type: 0x54414D53, ID: 1001, Data: []byte("tams data two, a bit longer")},
		},
	}
	enc, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Header.IsResourceDB() {
		t.Fatal("decoded header lost the resource-db attribute bit")
	}
	if len(got.Resources) != 2 {
		t.Fatalf("Resources len = %d, want 2", len(got.Resources))
	}
	for i, r := range f.Resources {
		if got.Resources[i].Type != r.Type || got.Resources[i].ID != r.ID {
			t.Errorf("resource %d = %+v, want %+v", i, got.Resources[i], r)
		}
		if !bytes.Equal(got.Resources[i].Data, r.Data) {
			t.Errorf("resource %d Data = %q, want %q", i, got.Resources[i].Data, r.Data)
		}
	}
}

func TestPalmTimeZeroIsZeroTime(t *testing.T) {
	if !PalmTimeToUnix(0).IsZero() {
		t.Error("PalmTimeToUnix(0) should be the zero time")
	}
	if UnixToPalmTime(time.Time{}) != 0 {
		t.Error("UnixToPalmTime(zero) should be 0")
	}
}

func TestPalmTimeRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	pt := UnixToPalmTime(now)
	back := PalmTimeToUnix(pt)
	if !back.Equal(now) {
		t.Errorf("round trip = %v, want %v", back, now)
	}
}

func TestEmptyDatabaseRoundTrip(t *testing.T) {
	f := File{Header: Header{Name: "Empty"}}
	enc, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Records) != 0 {
		t.Errorf("expected no records, got %d", len(got.Records))
	}
}
