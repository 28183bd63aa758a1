// Copyright 2026 The HiDock Next Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package detection

import "fmt"

// HiDockVendorID is the USB vendor id shared by every HiDock recorder.
const HiDockVendorID uint16 = 0x10D6

// Model identifies one HiDock hardware variant by USB product id.
type Model struct {
	Name      string
	ProductID uint16
}

// KnownModels lists the product ids that speak the Jensen protocol. Newer
// firmware re-enumerates under the 0xB00x range.
var KnownModels = []Model{
	{Name: "HiDock H1", ProductID: 0xAF0C},
	{Name: "HiDock H1E", ProductID: 0xAF0D},
	{Name: "HiDock P1", ProductID: 0xAF0E},
	{Name: "HiDock H1", ProductID: 0xB00C},
	{Name: "HiDock H1E", ProductID: 0xB00D},
	{Name: "HiDock P1", ProductID: 0xB00E},
}

// LookupModel returns the model for a product id.
func LookupModel(productID uint16) (Model, bool) {
	for _, m := range KnownModels {
		if m.ProductID == productID {
			return m, true
		}
	}
	return Model{}, false
}

// ModelName returns a display name for the product id, falling back to the
// raw id for unknown hardware.
func ModelName(productID uint16) string {
	if m, ok := LookupModel(productID); ok {
		return m.Name
	}
	return fmt.Sprintf("HiDock (pid %04x)", productID)
}

// IsHiDock reports whether vid:pid is a known HiDock.
func IsHiDock(vendorID, productID uint16) bool {
	if vendorID != HiDockVendorID {
		return false
	}
	_, ok := LookupModel(productID)
	return ok
}
