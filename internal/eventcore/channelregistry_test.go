package eventcore

import "testing"

func TestChannelRegistry_AddRemoveMember(t *testing.T) {
	r := NewChannelRegistry()
	r.AddMember("#general", "a")
	r.AddMember("#general", "b")

	members := r.GetMembers("#general")
	if !members["a"] || !members["b"] {
		t.Fatalf("expected a and b as members, got %v", members)
	}

	r.RemoveMember("#general", "a")
	members = r.GetMembers("#general")
	if members["a"] {
		t.Fatal("expected a to be removed")
	}
	if !members["b"] {
		t.Fatal("expected b to remain")
	}
}

func TestChannelRegistry_GetMembersIsASnapshot(t *testing.T) {
	r := NewChannelRegistry()
	r.AddMember("#general", "a")
	members := r.GetMembers("#general")
	members["b"] = true // mutating the returned copy must not affect the registry

	fresh := r.GetMembers("#general")
	if fresh["b"] {
		t.Fatal("expected GetMembers to return an isolated copy")
	}
}

func TestChannelRegistry_RemoveAgentCascades(t *testing.T) {
	r := NewChannelRegistry()
	r.AddMember("#general", "a")
	r.AddMember("#random", "a")
	r.AddMember("#general", "b")

	r.RemoveAgent("a")

	if r.GetMembers("#general")["a"] {
		t.Fatal("expected a removed from #general")
	}
	if r.GetMembers("#random")["a"] {
		t.Fatal("expected a removed from #random")
	}
	if channels := r.GetAgentChannels("a"); len(channels) != 0 {
		t.Fatalf("expected no remaining channel membership for a, got %v", channels)
	}
	if !r.GetMembers("#general")["b"] {
		t.Fatal("expected b to remain in #general")
	}
}

func TestChannelRegistry_RemoveChannel(t *testing.T) {
	r := NewChannelRegistry()
	r.AddMember("#general", "a")
	r.RemoveChannel("#general")

	if channels := r.GetAgentChannels("a"); channels["#general"] {
		t.Fatal("expected #general removed from a's membership")
	}
	names := r.ChannelNames()
	for _, n := range names {
		if n == "#general" {
			t.Fatal("expected #general removed from channel list")
		}
	}
}
