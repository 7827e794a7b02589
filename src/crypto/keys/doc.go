// Package keys implements the public key cryptography used by section nodes.
//
// Every node owns an ECDSA key-pair. The private key signs votes and join
// protocol messages; the public key lets other nodes verify them, and its
// SHA256 hash is the node's name in the identifier space.
//
// We use elliptic curve cryptography (ECDSA) with the secp256k1 curve, so
// that existing Bitcoin and Ethereum keys can be reused to operate a node.
package keys
