// Package modules links every transaction module into the VM registry.
// Import it for side effects.
package modules

import (
	_ "github.com/tolelom/tolmart/vm/modules/admin"
	_ "github.com/tolelom/tolmart/vm/modules/asset"
	_ "github.com/tolelom/tolmart/vm/modules/auction"
	_ "github.com/tolelom/tolmart/vm/modules/dispute"
	_ "github.com/tolelom/tolmart/vm/modules/economy"
	_ "github.com/tolelom/tolmart/vm/modules/market"
)
