package archiver_test

import (
	"context"
	"fmt"
	"log"
	"os"

	archiver "github.com/RetroBat-Official/emulatorlauncher-sub011"
)

// The simplest use of this package: extract everything an archive
// contains into a folder, dropping a top-level folder that wraps the
// whole archive. The format is determined automatically.
func ExampleUnarchiver_Extract() {
	u := archiver.New()
	err := u.Extract(context.Background(), "game.7z", "roms/snes", "", nil, false)
	if err != nil {
		log.Fatal(err)
	}
}

// Listings are cached, so asking twice for the same archive only opens
// it once.
func ExampleUnarchiver_ListEntries() {
	u := archiver.New()
	for _, e := range u.ListEntries("game.zip") {
		fmt.Println(e.Filename, e.Length)
	}
}

// Check for free space before a large extraction. When free space
// cannot be determined, refuse instead of assuming it is available.
func ExampleUnarchiver_IsFreeDiskSpaceAvailableForExtraction() {
	u := archiver.New(archiver.WithDiskCheckPolicy(archiver.DiskCheckFailClosed))
	if !u.IsFreeDiskSpaceAvailableForExtraction("disc.squashfs", "roms/psx") {
		log.Fatal("not enough space")
	}
}

// Open an archive to extract a single file with every directory
// component dropped, reporting progress as it goes.
func ExampleArchive_Extract() {
	a, err := archiver.New(archiver.WithPassword("secret")).Open("bundle.rar")
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	err = a.Extract(context.Background(), "out", archiver.ExtractOptions{
		FileName: "bundle/bios/scph1001.bin",
		Mode:     archiver.Flat,
		OnProgress: func(percent int) {
			fmt.Printf("\r%3d%%", percent)
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}

// Stream one entry to standard output without touching the disk.
func ExampleWriteEntry() {
	a, err := archiver.New().Open("saves.tar.zst")
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	if err := archiver.WriteEntry(context.Background(), a, "saves/slot1.srm", os.Stdout, ""); err != nil {
		log.Fatal(err)
	}
}
