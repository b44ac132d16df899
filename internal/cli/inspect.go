package cli

import (
	"context"
	"encoding/hex"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/banktransfer/pkg/bank"
)

// InspectCmd returns the inspect command.
func InspectCmd(a *app) *Command {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	namespace := fs.StringP("namespace", "n", "", "Inspect the bank in this namespace instead of the first usable one")
	slot := fs.IntP("slot", "s", -1, "Show a single slot including its payload")

	return &Command{
		Flags: fs,
		Usage: "inspect [--namespace ns] [--slot N]",
		Short: "Show the slots of the first box",
		Long: "List every slot of the first box with its offset, generation tag and\n" +
			"whether it is empty. With --slot, dump that slot's payload as hex.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("%w: inspect takes no arguments", errArgCount)
			}

			return execInspect(o, a, *namespace, *slot)
		},
	}
}

func execInspect(o *IO, a *app, namespace string, slot int) error {
	b, err := a.openBank(namespace)
	if err != nil {
		return err
	}

	defer func() { _ = b.Close() }()

	if !b.Validate() {
		o.Warn(b.Location().String()+" is not a valid bank", "run 'bankctl init' or check the file")
	}

	if slot >= 0 {
		info, err := b.Slot(slot)
		if err != nil {
			return err
		}

		printSlot(o, info)
		o.Printf("%s", hex.Dump(info.Payload))

		return nil
	}

	o.Printf("bank=%s\n", b.Location())

	occupied := 0

	for i := range b.Format().SlotsPerBox {
		info, err := b.Slot(i)
		if err != nil {
			return err
		}

		if !info.Empty {
			occupied++
		}

		printSlot(o, info)
	}

	o.Printf("occupied=%d/%d\n", occupied, b.Format().SlotsPerBox)

	return nil
}

func printSlot(o *IO, info bank.SlotInfo) {
	state := "occupied"
	if info.Empty {
		state = "empty"
	}

	o.Printf("slot %2d  offset=0x%04x  tag=%s  gen=%-7s  %s\n",
		info.Index, info.Offset, hex.EncodeToString(info.Tag[:]), info.Generation, state)
}
