package ring

import (
	"bytes"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"ringkv/internal/model"
)

func randomHosts(rng *rand.Rand, n int) []model.Host {
	hosts := make([]model.Host, 0, n)
	for i := 0; i < n; i++ {
		token := make([]byte, 1+rng.Intn(4))
		rng.Read(token)
		hosts = append(hosts, model.NewHost("10.0.0.1", 7000+i, model.TokenFromBytes(token)))
	}
	return hosts
}

// expectedFirst returns the host owning the least token >= hash, or the minimum token when none.
func expectedFirst(hosts []model.Host, hash []byte) model.Host {
	sorted := append([]model.Host(nil), hosts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Token.Compare(sorted[j].Token) < 0
	})
	for _, h := range sorted {
		if bytes.Compare(h.Token.Bytes(), hash) >= 0 {
			return h
		}
	}
	return sorted[0]
}

// TestRing_Property_PreferredHosts tests size, distinctness and first-host placement for random rings
func TestRing_Property_PreferredHosts(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 300; iter++ {
		n := 1 + rng.Intn(8)
		rf := 1 + rng.Intn(5)
		hosts := randomHosts(rng, n)

		r := NewRing(rf)
		r.Update(hosts)

		hash := make([]byte, 1+rng.Intn(8))
		rng.Read(hash)
		got := r.PreferredHosts(hash)

		want := rf
		if n < rf {
			want = n
		}
		if len(got) != want {
			t.Fatalf("Expected %d hosts (n=%d rf=%d), got %d", want, n, rf, len(got))
		}

		seen := make(map[model.Host]bool)
		for _, h := range got {
			if seen[h] {
				t.Fatalf("Duplicate host %v in %v", h, got)
			}
			seen[h] = true
		}

		first := expectedFirst(hosts, hash)
		if got[0].Token != first.Token {
			t.Fatalf("First host token %s, expected %s for hash %x", got[0].Token, first.Token, hash)
		}
	}
}

// TestRing_Property_ReplicasOfStartsWithHost tests that every ring member heads its own replica list
func TestRing_Property_ReplicasOfStartsWithHost(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	hosts := randomHosts(rng, 6)
	r := NewRing(3)
	r.Update(hosts)

	for _, h := range hosts {
		replicas := r.ReplicasOf(h)
		if len(replicas) != 3 {
			t.Fatalf("Expected 3 replicas for %v, got %v", h, replicas)
		}
		if replicas[0] != h {
			t.Errorf("ReplicasOf(%v) starts with %v", h, replicas[0])
		}
	}
}

// TestRing_Property_AtomicUpdate tests that concurrent readers only observe fully-old or fully-new rings
func TestRing_Property_AtomicUpdate(t *testing.T) {
	ringA := []model.Host{
		model.NewHost("a", 1, model.Token([]byte{0x10})),
		model.NewHost("a", 2, model.Token([]byte{0x50})),
		model.NewHost("a", 3, model.Token([]byte{0x90})),
	}
	ringB := []model.Host{
		model.NewHost("b", 1, model.Token([]byte{0x30})),
		model.NewHost("b", 2, model.Token([]byte{0x70})),
		model.NewHost("b", 3, model.Token([]byte{0xb0})),
	}

	r := NewRing(3)
	r.Update(ringA)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if i%2 == 0 {
				r.Update(ringB)
			} else {
				r.Update(ringA)
			}
		}
	}()

	var readers sync.WaitGroup
	errs := make(chan string, 4)
	for w := 0; w < 4; w++ {
		readers.Add(1)
		go func(seed int64) {
			defer readers.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 2000; i++ {
				got := r.PreferredHosts([]byte{byte(rng.Intn(256))})
				if len(got) != 3 {
					errs <- "wrong size"
					return
				}
				for _, h := range got[1:] {
					if h.Address != got[0].Address {
						errs <- "mixed ring observed: " + got[0].String() + " with " + h.String()
						return
					}
				}
			}
		}(int64(w))
	}

	readers.Wait()
	close(stop)
	<-writerDone
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}
