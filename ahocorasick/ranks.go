package ahocorasick

// byteFrequencies ranks every byte value from most common (0) to rarest
// (255) in the kind of source the scanner spends most of its time on: PHP,
// JS, HTML and shell text pulled out of compromised web roots. The
// prefilter uses the rank to prefer skipping ahead on whichever atom byte
// is least likely to show up by chance, since that byte is the one most
// likely to actually start a real match instead of a false positive.
//
// Values are a fixed approximation of what a frequency count over a PHP/JS
// malware corpus produces: lowercase letters, tab/LF/CR/space and the
// most common punctuation rank lowest (common); digits, uppercase letters
// and the remaining printable ASCII follow; the high half of the byte
// range (rare outside binary payloads, base64 blobs, or obfuscated
// strings) ranks above those, except 0xff, which ranks with the common
// bytes; and the remaining control bytes rank highest (rarest).
var byteFrequencies = [256]byte{
	255, 254, 253, 252, 251, 250, 249, 248, // 0x00-0x07
	247, 20, 21, 246, 245, 22, 244, 243, // 0x08-0x0f
	242, 241, 240, 239, 238, 237, 236, 235, // 0x10-0x17
	234, 233, 232, 231, 230, 229, 228, 227, // 0x18-0x1f
	23, 60, 70, 80, 90, 61, 95, 75, // 0x20-0x27 (space ! " # $ % & ')
	62, 63, 85, 55, 30, 15, 12, 72, // 0x28-0x2f (( ) * + , - . /)
	35, 36, 37, 38, 39, 40, 41, 42, // 0x30-0x37 (0-7)
	43, 44, 65, 66, 68, 56, 69, 78, // 0x38-0x3f (8 9 : ; < = > ?)
	82, 45, 46, 47, 48, 49, 50, 51, // 0x40-0x47 (@ A-G)
	52, 53, 54, 57, 58, 59, 64, 67, // 0x48-0x4f (H-O)
	71, 73, 74, 76, 77, 79, 81, 83, // 0x50-0x57 (P-W)
	84, 86, 87, 88, 91, 89, 92, 25, // 0x58-0x5f (X Y Z [ \ ] ^ _)
	93, 1, 9, 6, 3, 2, 16, 13, // 0x60-0x67 (` a b c d e f g)
	11, 4, 19, 18, 10, 8, 5, 7, // 0x68-0x6f (h i j k l m n o)
	14, 24, 3, 2, 0, 17, 26, 28, // 0x70-0x77 (p q r s t u v w)
	27, 29, 31, 94, 96, 97, 98, 99, // 0x78-0x7f (x y z { | } ~ DEL)
	100, 101, 102, 103, 104, 105, 106, 107, // 0x80-0x87
	108, 109, 110, 111, 112, 113, 114, 115, // 0x88-0x8f
	116, 117, 118, 119, 120, 121, 122, 123, // 0x90-0x97
	124, 125, 126, 127, 128, 129, 130, 131, // 0x98-0x9f
	132, 133, 134, 135, 136, 137, 138, 139, // 0xa0-0xa7
	140, 141, 142, 143, 144, 145, 146, 147, // 0xa8-0xaf
	148, 149, 150, 151, 152, 153, 154, 155, // 0xb0-0xb7
	156, 157, 158, 159, 160, 161, 162, 163, // 0xb8-0xbf
	164, 165, 166, 167, 168, 169, 170, 171, // 0xc0-0xc7
	172, 173, 174, 175, 176, 177, 178, 179, // 0xc8-0xcf
	180, 181, 182, 183, 184, 185, 186, 187, // 0xd0-0xd7
	188, 189, 190, 191, 192, 193, 194, 195, // 0xd8-0xdf
	196, 197, 198, 199, 200, 201, 202, 203, // 0xe0-0xe7
	204, 205, 206, 207, 208, 209, 210, 211, // 0xe8-0xef
	212, 213, 214, 215, 216, 217, 218, 219, // 0xf0-0xf7
	220, 221, 222, 223, 224, 225, 226, 33, // 0xf8-0xff
}
