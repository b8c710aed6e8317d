package main

import (
	"errors"
	"fmt"

	"github.com/sstallion/go-hid"
)

type CheckDeviceCmd struct {
	Verbose bool `short:"v" help:"Show device strings and permission detail."`
}

// Run enumerates supported devices and checks that each one's hidraw node
// exists and is readable and writable by the current user.
func (c *CheckDeviceCmd) Run() error {
	if err := hid.Init(); err != nil {
		return fmt.Errorf("initialize hidapi: %w", err)
	}
	defer hid.Exit()

	infos, err := DiscoverDevices()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No MuteMe devices found.")
		fmt.Println()
		fmt.Println("Troubleshooting:")
		fmt.Println("  - check the USB cable and connection")
		fmt.Println("  - try a different USB port")
		fmt.Println("  - run 'lsusb' and look for 20a0:42da, 20a0:42db or 3603:000x")
		return errors.New("no MuteMe devices found")
	}

	fmt.Printf("Found %d MuteMe device(s):\n", len(infos))

	failed := 0
	for _, info := range infos {
		model, _ := matchSupported(info.VendorID, info.ProductID)
		fmt.Println()
		fmt.Printf("  %s %04x:%04x\n", model.name, info.VendorID, info.ProductID)
		if c.Verbose {
			fmt.Printf("    product:      %s\n", info.ProductStr)
			fmt.Printf("    manufacturer: %s\n", info.MfrStr)
			fmt.Printf("    hid path:     %s\n", info.Path)
		}

		node, err := findHidrawNode(info.VendorID, info.ProductID)
		if err != nil {
			fmt.Printf("    hidraw:   not found (%v)\n", err)
			failed++
			continue
		}
		fmt.Printf("    hidraw:   %s\n", node)

		access, err := probeHidrawAccess(node)
		if err != nil {
			fmt.Printf("    access:   cannot stat (%v)\n", err)
			failed++
			continue
		}
		if access.Readable && access.Writable {
			fmt.Printf("    access:   ok\n")
			continue
		}

		failed++
		fmt.Printf("    access:   DENIED\n")
		if c.Verbose {
			for _, line := range access.Describe() {
				fmt.Printf("    %s\n", line)
			}
		}
		for _, line := range permissionHelp(node) {
			fmt.Printf("    %s\n", line)
		}
	}

	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d device(s) not accessible", failed)
	}
	fmt.Println("All devices are accessible and ready to use!")
	return nil
}
