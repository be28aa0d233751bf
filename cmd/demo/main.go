package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/tangledb/tangle"
	"github.com/tangledb/tangle/pkg/item"
	"github.com/tangledb/tangle/pkg/reader"
)

func main() {
	fmt.Println("Starting tangle demo")

	absPath, _ := filepath.Abs("DemoPath/" + time.Now().String())

	// Initialize the engine with one declared remote perspective.
	tg, err := tangle.New(tangle.Config{
		Paths:         []string{absPath},
		Perspectives:  []item.Perspective{"peerA"},
		MinimumFreeGB: 1,
	})
	if err != nil {
		log.Fatalf("failed to construct engine: %s", err)
	}

	ctx := context.Background()
	if err := tg.Start(ctx); err != nil {
		log.Fatalf("failed to start engine: %s", err)
	}
	defer tg.CloseWithoutContext()

	// Write a root document from the local perspective.
	written, err := tg.WriteLocal(ctx, []item.Item{
		{
			H: item.Header{ID: []byte("doc-1")},
			B: map[string]interface{}{"title": "ExampleRoot"},
		},
	})
	if err != nil {
		log.Fatalf("failed to write local root: %s", err)
	}
	fmt.Printf("wrote local root, version=%x\n", []byte(written[0].H.V))

	// Simulate a peer that holds the same root submitting an edit of it
	// from its own perspective, content-versioned the way a remote peer
	// versions its own items before sending them. The peer's copy of the
	// root goes first in the batch so the edit's parent resolves in the
	// peer's tree.
	peerRoot := item.Item{
		H: item.Header{ID: written[0].H.ID, V: written[0].H.V, PE: "peerA"},
		B: written[0].B,
	}
	peerEdit := item.Item{
		H: item.Header{
			ID: []byte("doc-1"),
			PA: []item.Version{written[0].H.V},
			PE: "peerA",
		},
		B: map[string]interface{}{"title": "ExampleRoot", "tag": "from-peer"},
	}
	peerVersion, err := item.ContentVersion(peerEdit, item.DefaultVersionSize)
	if err != nil {
		log.Fatalf("failed to version peer edit: %s", err)
	}
	peerEdit.H.V = peerVersion

	peerItems, err := tg.WriteRemote(ctx, "peerA", []item.Item{peerRoot, peerEdit})
	if err != nil {
		log.Fatalf("failed to write remote batch: %s", err)
	}
	fmt.Printf("remote write stored %d item(s)\n", len(peerItems))

	// Drain peerA's new items into stage and auto-confirm the merge.
	if err := tg.MergeWithLocal(ctx, "peerA", nil); err != nil {
		log.Fatalf("failed to merge with local: %s", err)
	}
	fmt.Println("merged peerA into local")

	// Read back everything currently in the local tree.
	r, err := tg.NewReader(reader.Config{})
	if err != nil {
		log.Fatalf("failed to open reader: %s", err)
	}
	defer r.Close()

	for em := range r.Emissions() {
		if em.Err != nil {
			log.Fatalf("reader error: %s", em.Err)
		}
		fmt.Printf("read back: id=%s body=%v\n", string(em.Item.H.ID), em.Item.B)
	}
}
