package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/archivecore/ncarepack/internal/log"
	"github.com/archivecore/ncarepack/pkg/nca"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.nca>",
	Short: "Decrypt and print an NCA's header fields",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	kp, err := loadKeyProvider()
	if err != nil {
		return fmt.Errorf("loading keys: %w", err)
	}
	tickets, err := loadTicketStore(kp)
	if err != nil {
		return fmt.Errorf("loading title keys: %w", err)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := nca.Decrypt(f, kp, tickets)
	if err != nil {
		return fmt.Errorf("decrypting header: %w", err)
	}

	fmt.Printf("Magic:        %s\n", h.Magic)
	fmt.Printf("Content type: %d\n", h.ContentType)
	fmt.Printf("Title ID:     %016x\n", h.TitleID)
	fmt.Printf("Content size: %d\n", h.ContentSize)
	fmt.Printf("Generation:   %d\n", h.Generation)
	fmt.Printf("Has rights ID: %v\n", h.HasRightsID())

	for i, e := range h.SectionEntries {
		if e.Empty() {
			continue
		}
		start, end := e.ByteRange()
		fh := h.FsHeaders[i]
		log.Infof("section %d: [0x%x, 0x%x) partition=%d fs=%d crypto=%d",
			i, start, end, fh.PartitionKind, fh.FsKind, fh.CryptoKind)
	}
	return nil
}
