package farmproof

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// witnessMessage is the byte string a witness signs for one day's root.
func witnessMessage(dayKey, merkleRoot string) []byte {
	return []byte(dayKey + "|" + merkleRoot)
}

// Verify checks the signature against the witness's own public key for the
// given day and root. A signature that does not verify carries no weight
// toward quorum.
func (ws WitnessSignature) Verify(dayKey, merkleRoot string) bool {
	pub, err := hex.DecodeString(ws.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(ws.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), witnessMessage(dayKey, merkleRoot), sig)
}

// Witness is an independent attestor that signs day roots with an ed25519 key.
type Witness struct {
	priv ed25519.PrivateKey
}

// NewWitness creates a witness with a freshly generated key.
func NewWitness() (*Witness, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Witness{priv: priv}, nil
}

// NewWitnessFromSeed creates a witness from a 32-byte hex seed, so a
// deployment keeps a stable identity across restarts.
func NewWitnessFromSeed(seedHex string) (*Witness, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Witness{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKeyHex returns the witness's hex-encoded public key.
func (w *Witness) PublicKeyHex() string {
	return hex.EncodeToString(w.priv.Public().(ed25519.PublicKey))
}

// Sign attests to a day's Merkle root.
func (w *Witness) Sign(dayKey, merkleRoot string) WitnessSignature {
	sig := ed25519.Sign(w.priv, witnessMessage(dayKey, merkleRoot))
	return WitnessSignature{
		PublicKey: w.PublicKeyHex(),
		Signature: hex.EncodeToString(sig),
	}
}

type signRequest struct {
	DayKey     string `json:"dayKey" binding:"required"`
	MerkleRoot string `json:"merkleRoot" binding:"required"`
}

// Router builds the witness HTTP surface: POST /witness/sign with
// {dayKey, merkleRoot} answered by {signature, publicKey}.
func (w *Witness) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.POST("/witness/sign", func(c *gin.Context) {
		var req signRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dayKey and merkleRoot required"})
			return
		}
		ws := w.Sign(req.DayKey, req.MerkleRoot)
		c.JSON(http.StatusOK, gin.H{
			"signature": ws.Signature,
			"publicKey": ws.PublicKey,
		})
	})
	return r
}

// WitnessClient solicits signatures from witness endpoints over HTTP.
type WitnessClient struct {
	http *http.Client
}

// NewWitnessClient returns a client; httpClient may be nil for defaults.
func NewWitnessClient(httpClient *http.Client) *WitnessClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WitnessClient{http: httpClient}
}

// Sign posts {dayKey, merkleRoot} to the witness URL and returns its
// signature. Any transport failure, non-2xx status, or malformed response
// is an error; the caller treats it as "no signature from this witness".
func (c *WitnessClient) Sign(ctx context.Context, url, dayKey, merkleRoot string) (WitnessSignature, error) {
	body, err := json.Marshal(map[string]string{
		"dayKey":     dayKey,
		"merkleRoot": merkleRoot,
	})
	if err != nil {
		return WitnessSignature{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return WitnessSignature{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return WitnessSignature{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return WitnessSignature{}, fmt.Errorf("witness %s: status %d", url, resp.StatusCode)
	}
	var out struct {
		Signature string `json:"signature"`
		PublicKey string `json:"publicKey"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return WitnessSignature{}, fmt.Errorf("witness %s: decode response: %w", url, err)
	}
	if out.Signature == "" || out.PublicKey == "" {
		return WitnessSignature{}, fmt.Errorf("witness %s: incomplete response", url)
	}
	return WitnessSignature{WitnessURL: url, PublicKey: out.PublicKey, Signature: out.Signature}, nil
}
