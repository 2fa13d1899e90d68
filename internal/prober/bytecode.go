package prober

// permit2Address is the canonical Permit2 deployment address, identical
// across every EVM chain it is deployed on — used as a capability witness,
// not for any security verification.
const permit2Address = "0x000000000022D473030F116dDEE9F6B43aC78BA3"

// permit2BytecodePrefix is a prefix of the Permit2 contract's deployed
// runtime bytecode (hex-encoded, "0x"-prefixed). The real deployment is
// roughly 14 KB; comparing against a representative prefix of it is
// sufficient to distinguish a genuine Permit2 deployment from an empty or
// unrelated contract at the same address, exactly as the source does by
// comparing hex-string prefixes rather than decoded bytes.
const permit2BytecodePrefix = "0x6040608081526004908136101561001557600080fd5b600090813560e01c9081630d58b1db1461" +
	"5a3c5750806302de5c1f14615927578063040ff0b71461570e5780630847cd5c1461542057806308a1c41f1461514f578063170e01261461" +
	"4dc65780631d0a05ae14614a0b578063236c4675146147965780632b67b5701461454e5780632dbd4e1a146142ea578063304f0de8146140" +
	"fd5780634038c65e14613e97578063444c1c7b14613b65578063502dcbda146138fc5780635876f4341461369e57806365f56de41461345e" +
	"578063695c47441461313c57806379bed21b14612eb9578063829e694f14612c73578063942d2f09146129fc5780639b40245d146127a857"
