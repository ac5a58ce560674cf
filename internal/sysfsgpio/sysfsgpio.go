// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// Package sysfsgpio implements ccdbg.PinPort on top of the Linux kernel's
// /sys/class/gpio interface: one exported pin per wire, driven by
// quick open-write-close syscalls against the pin's value file.
package sysfsgpio

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bbnote/ccdbg"
	log "github.com/sirupsen/logrus"
)

const gpioBasePath = "/sys/class/gpio"

// quickWrite opens path, writes data, and immediately closes it — mirrors
// the export/direction/value control-file protocol sysfs GPIO exposes,
// where each control file only needs a single short write.
func quickWrite(path, data string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("sysfsgpio: opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(data); err != nil {
		return fmt.Errorf("sysfsgpio: writing %s: %w", path, err)
	}
	return nil
}

func quickRead(path string) (string, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return "", fmt.Errorf("sysfsgpio: opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 8)
	n, err := f.Read(buf)
	if err != nil {
		return "", fmt.Errorf("sysfsgpio: reading %s: %w", path, err)
	}
	return string(buf[:n]), nil
}

// PinMapping names which kernel GPIO line number backs each of the three
// debug wires.
type PinMapping struct {
	Reset int
	DC    int
	DD    int
}

// Adapter is a ccdbg.PinPort backed by three exported sysfs GPIO lines.
// Unlike the USB-bit-bang backend, Delay is a real sleep: sysfs writes
// are slow enough on their own that a hardware target may still need an
// explicit settle time between edges.
type Adapter struct {
	mapping    PinMapping
	delay      time.Duration
	numbers    map[ccdbg.PinId]int
	exported   []int
}

// Open exports the three GPIO lines named by mapping and returns a ready
// Adapter. Close should be called to unexport them when done.
func Open(mapping PinMapping, delay time.Duration) (*Adapter, error) {
	a := &Adapter{
		mapping: mapping,
		delay:   delay,
		numbers: map[ccdbg.PinId]int{
			ccdbg.PinReset: mapping.Reset,
			ccdbg.PinDC:    mapping.DC,
			ccdbg.PinDD:    mapping.DD,
		},
	}

	for _, pin := range []ccdbg.PinId{ccdbg.PinReset, ccdbg.PinDC, ccdbg.PinDD} {
		number := a.numbers[pin]
		if err := quickWrite(gpioBasePath+"/export", strconv.Itoa(number)); err != nil {
			a.Close()
			return nil, err
		}
		a.exported = append(a.exported, number)
	}

	return a, nil
}

// Close unexports every GPIO line this Adapter opened.
func (a *Adapter) Close() {
	for _, number := range a.exported {
		if err := quickWrite(gpioBasePath+"/unexport", strconv.Itoa(number)); err != nil {
			log.WithError(err).WithField("gpio", number).Warn("failed to unexport gpio line")
		}
	}
}

func (a *Adapter) pinPath(pin ccdbg.PinId, file string) string {
	return fmt.Sprintf("%s/gpio%d/%s", gpioBasePath, a.numbers[pin], file)
}

func (a *Adapter) SetDirection(pin ccdbg.PinId, dir ccdbg.PinDirection) {
	value := "out"
	if dir == ccdbg.Input {
		value = "in"
	}
	if err := quickWrite(a.pinPath(pin, "direction"), value); err != nil {
		log.WithError(err).WithField("pin", pin).Error("failed to set gpio direction")
	}
}

func (a *Adapter) SetState(pin ccdbg.PinId, high bool) {
	value := "0"
	if high {
		value = "1"
	}
	if err := quickWrite(a.pinPath(pin, "value"), value); err != nil {
		log.WithError(err).WithField("pin", pin).Error("failed to set gpio value")
	}
}

func (a *Adapter) GetState(pin ccdbg.PinId) bool {
	value, err := quickRead(a.pinPath(pin, "value"))
	if err != nil {
		log.WithError(err).WithField("pin", pin).Error("failed to read gpio value")
		return false
	}
	return len(value) > 0 && value[0] == '1'
}

func (a *Adapter) Delay() {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
}
