package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/api"
	"habitat/internal/config"
	"habitat/internal/placement"
	"habitat/internal/router"
	"habitat/pkg/types"
)

func TestSessionFlow_BuildChatAndHandOver(t *testing.T) {
	srv := startServer(t, nil)
	host := srv.dial(t)
	guest := srv.dial(t)

	host.send(types.MessageTypeCreateSession, types.JoinRequest{SessionID: "ROOM01", PlayerName: "Ana"})
	var created router.JoinedEvent
	host.expect(types.EventSessionCreated, &created)
	require.NotEmpty(t, created.PlayerID)
	assert.Equal(t, created.PlayerID, created.State.HostID)

	guest.send(types.MessageTypeJoinSession, types.JoinRequest{SessionID: "ROOM01", PlayerName: "Ben", Role: "medic"})
	var joined router.JoinedEvent
	guest.expect(types.EventSessionJoined, &joined)
	assert.Len(t, joined.State.Players, 2)
	var arrived router.PlayerEvent
	host.expect(types.EventPlayerJoined, &arrived)
	assert.Equal(t, "Ben", arrived.Player.Name)

	t.Run("guest cannot build", func(t *testing.T) {
		guest.send(types.MessageTypePlaceArea, types.AreaSpec{Type: types.AreaKitchen, X: 0, Y: 0, W: 2, H: 2})
		var rejected types.ErrorPayload
		guest.expect(types.EventPlaceError, &rejected)
		assert.Equal(t, "not_host", rejected.Reason)
	})

	t.Run("host builds and undoes", func(t *testing.T) {
		host.send(types.MessageTypePlaceArea, types.AreaSpec{Type: types.AreaKitchen, X: 1, Y: 1, W: 2, H: 2})
		var placed placement.AreaEvent
		guest.expect(types.EventAreaPlaced, &placed)
		assert.Equal(t, types.AreaKitchen, placed.Area.Type)
		assert.Equal(t, created.PlayerID, placed.By)

		host.send(types.MessageTypePlaceArea, types.AreaSpec{Type: types.AreaSleep, X: 2, Y: 2, W: 2, H: 2})
		var overlap types.ErrorPayload
		host.expect(types.EventPlaceError, &overlap)
		assert.Equal(t, "invalid_placement", overlap.Reason)

		host.send(types.MessageTypeUndo, nil)
		var removed placement.AreaEvent
		guest.expect(types.EventAreaRemoved, &removed)
		assert.Equal(t, placed.Area.ID, removed.Area.ID)

		var resp api.SessionResponse
		require.Equal(t, http.StatusOK, srv.getJSON(t, "/api/sessions/ROOM01", &resp))
		assert.Empty(t, resp.Session.Areas)
		assert.Equal(t, 2, resp.ConnectionCount)
	})

	t.Run("chat reaches everyone and the journal", func(t *testing.T) {
		guest.send(types.MessageTypeChat, types.ChatRequest{Text: "olá"})
		var line types.ChatMessage
		host.expect(types.EventChat, &line)
		assert.Equal(t, "Ben", line.PlayerName)
		assert.Equal(t, "olá", line.Text)

		require.Eventually(t, func() bool {
			var chat api.ChatResponse
			if srv.getJSON(t, "/api/sessions/ROOM01/chat", &chat) != http.StatusOK {
				return false
			}
			return len(chat.Messages) == 1 && chat.Messages[0].Text == "olá"
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("host leaving promotes the guest", func(t *testing.T) {
		require.NoError(t, host.conn.Close())

		var changed router.HostChangedEvent
		guest.expect(types.EventHostChanged, &changed)
		assert.Equal(t, joined.PlayerID, changed.HostID)
	})

	t.Run("last player leaving ends the session", func(t *testing.T) {
		guest.send(types.MessageTypeLeaveSession, nil)

		require.Eventually(t, func() bool {
			var list api.ListSessionsResponse
			srv.getJSON(t, "/api/sessions", &list)
			return len(list.Sessions) == 0
		}, 2*time.Second, 20*time.Millisecond)

		var stats api.StatsResponse
		require.Equal(t, http.StatusOK, srv.getJSON(t, "/api/stats", &stats))
		assert.Equal(t, uint64(1), stats.Gameplay.SessionsCreated)
		assert.Equal(t, uint64(1), stats.Gameplay.SessionsClosed)
		assert.Equal(t, uint64(1), stats.Gameplay.Rejections["not_host"])

		var chat api.ChatResponse
		assert.Equal(t, http.StatusOK, srv.getJSON(t, "/api/sessions/ROOM01/chat", &chat))
		assert.Len(t, chat.Messages, 1)
	})
}

func TestSessionFlow_JoinErrors(t *testing.T) {
	srv := startServer(t, func(cfg *config.Config) { cfg.Game.MaxPlayers = 1 })
	host := srv.dial(t)
	late := srv.dial(t)

	late.send(types.MessageTypeJoinSession, types.JoinRequest{SessionID: "ROOM01", PlayerName: "Ben"})
	var missing types.ErrorPayload
	late.expect(types.EventJoinError, &missing)
	assert.Equal(t, "session_not_found", missing.Reason)

	host.send(types.MessageTypeCreateSession, types.JoinRequest{SessionID: "ROOM01", PlayerName: "Ana"})
	host.expect(types.EventSessionCreated, nil)

	late.send(types.MessageTypeJoinSession, types.JoinRequest{SessionID: "ROOM01", PlayerName: "Ben"})
	var full types.ErrorPayload
	late.expect(types.EventJoinError, &full)
	assert.Equal(t, "room_full", full.Reason)

	late.send(types.MessageTypeChat, types.ChatRequest{Text: "hi"})
	var outside types.ErrorPayload
	late.expect(types.EventError, &outside)
	assert.Equal(t, "not_in_session", outside.Reason)
	assert.Equal(t, types.MessageTypeChat, outside.For)
}

func TestSessionFlow_SimulationAndIncidents(t *testing.T) {
	srv := startServer(t, nil)
	host := srv.dial(t)

	host.send(types.MessageTypeCreateSession, types.JoinRequest{SessionID: "ROOM02", PlayerName: "Ana", Role: "engineer"})
	host.expect(types.EventSessionCreated, nil)

	host.send(types.MessageTypePlaceArea, types.AreaSpec{Type: types.AreaKitchen, X: 0, Y: 0, W: 2, H: 2})
	host.expect(types.EventAreaPlaced, nil)

	host.send(types.MessageTypeSimulationStart, nil)
	var started router.SimulationEvent
	host.expect(types.EventSimulationStarted, &started)
	assert.True(t, started.Running)

	host.send(types.MessageTypeEventForce, types.EventRequest{EventType: "oxygen_leak"})
	var triggered types.ActiveEvent
	host.expect(types.EventIncidentTriggered, &triggered)
	assert.Equal(t, "oxygen_leak", triggered.Type)

	host.send(types.MessageTypeEventResolve, types.EventRequest{EventID: triggered.ID})
	var resolved types.ActiveEvent
	host.expect(types.EventIncidentResolved, &resolved)
	assert.Equal(t, triggered.ID, resolved.ID)
	assert.True(t, resolved.ResolvedManually)

	host.send(types.MessageTypeSimulationStop, nil)
	var stopped router.SimulationEvent
	host.expect(types.EventSimulationStopped, &stopped)
	assert.False(t, stopped.Running)
}

func TestSessionFlow_ForceIsForbiddenInProduction(t *testing.T) {
	srv := startServer(t, func(cfg *config.Config) { cfg.Environment = config.EnvProduction })
	host := srv.dial(t)

	host.send(types.MessageTypeCreateSession, types.JoinRequest{SessionID: "ROOM03", PlayerName: "Ana"})
	host.expect(types.EventSessionCreated, nil)

	host.send(types.MessageTypeEventForce, types.EventRequest{EventType: "oxygen_leak"})
	var rejected types.ErrorPayload
	host.expect(types.EventError, &rejected)
	assert.Equal(t, "forbidden", rejected.Reason)
}
