// Package fence implements the fencing module (C2): the six-saving-throw
// confirmation loop, the IPMI power-cycle sequence and its outcome
// classification, and the self-suicide watchdog every node runs against
// its own keepalive.
package fence
