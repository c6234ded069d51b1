// Command streamclient streams a raw float32 PCM file over the gateway's
// WebSocket protocol, printing partial/final transcript events as they
// arrive. It is the Go equivalent of the original Python
// example_websocket_client.py: connect, send config, stream audio in
// real-time-paced chunks, finalize, print results.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"math"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

const wavHeaderSize = 44

func main() {
	audioFile := flag.String("audio", "", "path to a mono 16kHz raw float32 PCM or WAV file")
	serverAddr := flag.String("server", "ws://localhost:8080/ws/asr", "gateway WebSocket URL")
	language := flag.String("language", "", "force a decode language (empty = server default)")
	context := flag.String("context", "", "decode context hint")
	chunkMs := flag.Int("chunk-ms", 100, "audio chunk duration in milliseconds")
	flag.Parse()

	if *audioFile == "" {
		log.Fatal("missing -audio")
	}

	samples, err := loadFloat32Samples(*audioFile)
	if err != nil {
		log.Fatalf("failed to load audio: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverAddr, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	cfg := map[string]any{"type": "config"}
	if *language != "" {
		cfg["language"] = *language
	}
	if *context != "" {
		cfg["context"] = *context
	}
	if err := conn.WriteJSON(cfg); err != nil {
		log.Fatalf("failed to send config: %v", err)
	}

	done := make(chan struct{})
	go receiveLoop(conn, done)

	chunkSamples := 16000 * (*chunkMs) / 1000
	if chunkSamples <= 0 {
		chunkSamples = 1600
	}

	start := time.Now()
	for i := 0; i < len(samples); i += chunkSamples {
		end := i + chunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, float32SamplesToLE(samples[i:end])); err != nil {
			log.Fatalf("failed to send audio chunk: %v", err)
		}
		time.Sleep(time.Duration(*chunkMs) * time.Millisecond)
	}
	log.Printf("finished streaming %d samples in %v", len(samples), time.Since(start))

	if err := conn.WriteJSON(map[string]any{"type": "finalize"}); err != nil {
		log.Fatalf("failed to send finalize: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Println("timed out waiting for connection to close")
	}
}

func receiveLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("malformed event: %v", err)
			continue
		}
		switch ev["type"] {
		case "session_created":
			log.Printf("session created: %v", ev["session_id"])
		case "partial":
			log.Printf("[partial] %v", ev["text"])
		case "final":
			log.Printf("[final] lang=%v text=%v", ev["language"], ev["text"])
		case "error":
			log.Printf("[error] %v", ev["message"])
		}
	}
}

// loadFloat32Samples reads a WAV file (skipping its header) or a headerless
// raw float32 PCM file, based on the RIFF magic.
func loadFloat32Samples(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		data = data[wavHeaderSize:]
	}

	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[4*i : 4*i+4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

func float32SamplesToLE(samples []float32) []byte {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(s))
	}
	return buf
}
