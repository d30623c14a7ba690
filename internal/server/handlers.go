package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/Tyrowin/roomrelay/internal/auth"
	"github.com/Tyrowin/roomrelay/internal/persist"
	"github.com/Tyrowin/roomrelay/internal/relay"
)

// WebSocketHandler authenticates the request, upgrades it and attaches a new
// session to the dispatcher. Credentials are checked before the upgrade so a
// rejected client gets a plain 401.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.isStopping() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	identity, err := s.authenticate(r)
	if err != nil {
		log.Printf("[server] Rejected connection from %s: %v", r.RemoteAddr, err)
		w.Header().Set("WWW-Authenticate", `Bearer realm="roomrelay"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] WebSocket upgrade failed: %v", err)
		return
	}

	if !s.attach(identity, conn, r.RemoteAddr) {
		_ = newWSConn(conn, r.RemoteAddr).Close()
	}
}

func (s *Server) authenticate(r *http.Request) (relay.Identity, error) {
	credential, err := auth.CredentialFromRequest(r)
	if err != nil {
		return relay.Identity{}, err
	}
	return s.verifier.Verify(r.Context(), credential)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room relay is running!")
}

// Stats is the body served by StatsHandler.
type Stats struct {
	Sessions int              `json:"sessions"`
	Rooms    []relay.RoomInfo `json:"rooms"`
	Persist  persist.Stats    `json:"persist"`
}

// StatsHandler reports live sessions, rooms and persistence counters.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := Stats{
		Sessions: s.dispatcher.SessionCount(),
		Rooms:    s.registry.Snapshot(),
		Persist:  s.gateway.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Printf("[server] Error writing stats response: %v", err)
	}
}

// TestPageHandler serves an HTML page for exercising the relay by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		log.Printf("[server] Error writing HTML response: %v", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Room Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] {
            width: 240px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status {
            margin: 10px 0;
            padding: 5px;
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Room Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="tokenInput" placeholder="Access token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="roomInput" placeholder="Room" value="lobby" disabled>
        <button id="joinButton" onclick="join()" disabled>Join</button>
        <button id="leaveButton" onclick="leave()" disabled>Leave</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const tokenInput = document.getElementById('tokenInput');
        const roomInput = document.getElementById('roomInput');
        const messageInput = document.getElementById('messageInput');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        const controls = ['roomInput', 'joinButton', 'leaveButton', 'messageInput', 'sendButton']
            .map(id => document.getElementById(id));

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            controls.forEach(el => el.disabled = !connected);
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function render(ev) {
            switch (ev.type) {
            case 'message':
                addLine('[' + ev.roomId + ' #' + ev.seq + '] ' + ev.sender.displayName + ': ' + ev.payload, 'green');
                break;
            case 'joined':
                addLine('Joined ' + ev.roomId + (ev.alreadyJoined ? ' (already a member)' : ''));
                (ev.recentMessages || []).forEach(m =>
                    addLine('[' + m.roomId + ' #' + m.seq + '] ' + m.sender.displayName + ': ' + m.payload, 'darkgreen'));
                break;
            case 'member_joined':
            case 'member_left':
                addLine(ev.member.displayName + (ev.type === 'member_joined' ? ' joined ' : ' left ') + ev.roomId);
                break;
            case 'backlog_overflow':
                addLine('Missed ' + ev.dropped + ' events', 'orange');
                break;
            case 'error':
                addLine('Error ' + ev.code + ': ' + (ev.context || ''), 'red');
                break;
            default:
                addLine(JSON.stringify(ev));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent(tokenInput.value.trim()));
            ws.onopen = () => { addLine('Connected to room relay'); updateStatus(true); };
            ws.onmessage = event => render(JSON.parse(event.data));
            ws.onclose = () => { addLine('Connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => { addLine('Connection error'); updateStatus(false); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function command(cmd) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(cmd));
            }
        }

        function join() { command({type: 'join', roomId: roomInput.value.trim()}); }
        function leave() { command({type: 'leave', roomId: roomInput.value.trim()}); }

        function sendMessage() {
            const payload = messageInput.value.trim();
            if (payload) {
                command({type: 'send', roomId: roomInput.value.trim(), payload: payload});
                addLine('You: ' + payload, 'blue');
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', e => { if (e.key === 'Enter') sendMessage(); });
    </script>
</body>
</html>`
