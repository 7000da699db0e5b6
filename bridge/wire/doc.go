// Package wire implements the bus payload format.
//
// Layout, bit-exact and little-endian throughout:
//
//	Scalar        := fixed-width bytes (bool is one byte, 0 or 1)
//	String|Binary := u32 length ++ bytes
//	Array[T]      := u32 count ++ T[0] ++ T[1] ++ ...
//	Optional[T]   := u8 present ++ (T if present)
//	Struct        := member0 ++ member1 ++ ...   (declared order, no prefix)
//
// The format is not self-describing: a reader must know the Descriptor (and for
// structs the StructDefinition) of the payload it consumes. Multidimensional
// arrays are one array frame per dimension, outermost first.
package wire
