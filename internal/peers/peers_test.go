package peers

import "testing"

func TestRegistrySeedsFromStaticBaseURLs(t *testing.T) {
	r := NewRegistry([]string{"http://eu", "http://ap"})
	urls := r.BaseURLs()
	if len(urls) != 2 {
		t.Fatalf("expected 2 seeded peers, got %d", len(urls))
	}
}

func TestRegistryJoinAndLeave(t *testing.T) {
	r := NewRegistry(nil)
	r.Join("europe", "http://eu")

	all := r.All()
	if len(all) != 1 || all[0].Region != "europe" {
		t.Fatalf("expected 1 peer with region europe, got %+v", all)
	}

	if err := r.Leave("http://eu"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if len(r.All()) != 0 {
		t.Fatal("expected no peers after Leave")
	}
}

func TestRegistryLeaveUnknownPeerErrors(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Leave("http://nope"); err == nil {
		t.Fatal("expected an error leaving an unregistered peer")
	}
}
