package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/forestrie/go-merkleroll/cmt"
	"github.com/forestrie/go-merkleroll/internal/service"
)

var (
	sizeDepth  int
	sizeBuffer int
	keyOut     string
)

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Print the block size of a tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, buffer := cfg.Tree.Depth, cfg.Tree.BufferSize
		if cmd.Flags().Changed("depth") {
			depth = sizeDepth
		}
		if cmd.Flags().Changed("buffer") {
			buffer = sizeBuffer
		}
		return printSize(cmd.OutOrStdout(), depth, buffer)
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Write a new P-256 checkpoint signing key as PEM",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if keyOut != "" {
			f, err := os.OpenFile(keyOut, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return writeKey(out)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [tree id...]",
	Short: "Print the heads of stored trees",
	Long:  "inspect reads trees straight from the configured store. With no ids every stored tree is listed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspect(cmd.Context(), cmd.OutOrStdout(), args)
	},
}

func init() {
	sizeCmd.Flags().IntVar(&sizeDepth, "depth", 0, "tree depth (default tree.depth)")
	sizeCmd.Flags().IntVar(&sizeBuffer, "buffer", 0, "change log buffer size (default tree.buffer_size)")
	keygenCmd.Flags().StringVarP(&keyOut, "out", "o", "", "file to create, stdout when empty")
}

func printSize(w io.Writer, depth, buffer int) error {
	if err := cmt.CheckDimensions(depth, buffer); err != nil {
		return err
	}
	n := cmt.RollBytes(depth, buffer)
	_, err := fmt.Fprintf(w, "depth %d, buffer %d: %s (%d bytes), capacity %s leaves\n",
		depth, buffer, humanize.IBytes(uint64(n)), n, humanize.Comma(int64(1)<<depth))
	return err
}

func writeKey(w io.Writer) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}
	return pem.Encode(w, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func inspect(ctx context.Context, w io.Writer, ids []string) error {
	log := logger.Sugar.WithServiceName("inspect")
	store, closer, err := openStore(ctx, log, cfg.Store)
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(ids) == 0 {
		if ids, err = store.List(ctx); err != nil {
			return err
		}
	}
	for _, id := range ids {
		obj, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		head, err := service.DecodeHead(id, obj.Data)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s seq=%d leaves=%d depth=%d buffer=%d size=%s root=%s\n",
			id, head.SequenceNumber, head.LeafCount, head.Depth, head.MaxBufferSize,
			humanize.IBytes(uint64(head.RollBytes)), hex.EncodeToString(head.Root[:]))
	}
	return nil
}
