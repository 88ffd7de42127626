package hook

import (
	"fmt"
	"testing"

	"github.com/axmq/broker-core/packet"
)

func BenchmarkManagerAdd(b *testing.B) {
	m := NewManager()
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		h := NewHookBase(fmt.Sprintf("hook-%d", i))
		_ = m.Add(h)
	}
}

func BenchmarkManagerRemove(b *testing.B) {
	m := NewManager()
	for i := 0; i < 1000; i++ {
		_ = m.Add(NewHookBase(fmt.Sprintf("hook-%d", i)))
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("hook-%d", i%1000)
		_ = m.Remove(id)
		_ = m.Add(NewHookBase(id))
	}
}

func BenchmarkManagerGet(b *testing.B) {
	m := NewManager()
	for i := 0; i < 100; i++ {
		_ = m.Add(NewHookBase(fmt.Sprintf("hook-%d", i)))
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, _ = m.Get(fmt.Sprintf("hook-%d", i%100))
	}
}

func BenchmarkManagerList(b *testing.B) {
	m := NewManager()
	for i := 0; i < 100; i++ {
		_ = m.Add(NewHookBase(fmt.Sprintf("hook-%d", i)))
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = m.List()
	}
}

func BenchmarkManagerOnConnect(b *testing.B) {
	m := NewManager()
	for i := 0; i < 10; i++ {
		_ = m.Add(newTestHook(fmt.Sprintf("hook-%d", i), OnConnect))
	}

	client := &Client{ID: "bench-client"}
	connect := &packet.Connect{ClientID: "bench-client"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = m.OnConnect(client, connect)
	}
}

func BenchmarkManagerOnPublish(b *testing.B) {
	m := NewManager()
	for i := 0; i < 10; i++ {
		_ = m.Add(newTestHook(fmt.Sprintf("hook-%d", i), OnPublish))
	}

	client := &Client{ID: "bench-client"}
	pub := &packet.Publish{Topic: "bench/topic", Payload: []byte("data")}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = m.OnPublish(client, pub)
	}
}

func BenchmarkManagerOnPublishNoHooks(b *testing.B) {
	m := NewManager()
	client := &Client{ID: "bench-client"}
	pub := &packet.Publish{Topic: "bench/topic", Payload: []byte("data")}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = m.OnPublish(client, pub)
	}
}

func BenchmarkManagerConcurrentOnPublish(b *testing.B) {
	m := NewManager()
	for i := 0; i < 5; i++ {
		_ = m.Add(newTestHook(fmt.Sprintf("hook-%d", i), OnPublish))
	}

	client := &Client{ID: "bench-client"}
	pub := &packet.Publish{Topic: "bench/topic", Payload: []byte("data")}

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = m.OnPublish(client, pub)
		}
	})
}
